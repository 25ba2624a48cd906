// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It is a thin adapter over the task service: every
// state change goes through task.Service, and errors are mapped to HTTP
// statuses without leaking internal detail.
package api
