// Package gemini provides a generation.Generator backed by Google's Gemini
// API through the google.golang.org/genai client.
//
// The generator sends the task prompt verbatim as a single user turn and
// returns the concatenated text parts of the first candidate. Transient API
// failures (HTTP 429 and 5xx) are retried with exponential backoff; safety
// blocks and other 4xx responses fail the attempt immediately.
package gemini
