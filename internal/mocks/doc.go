// Package mocks provides centralized fakes for the orchestration boundaries.
//
// Each fake records its calls behind a mutex and lets tests override
// behaviour through a function field:
//
//	gen := &mocks.Generator{
//	    GenerateFn: func(ctx context.Context, prompt string) (string, error) {
//	        return "", errors.New("quota exceeded")
//	    },
//	}
//
// When adding a new fake to this package:
//  1. Create a new file named after the interface being faked
//  2. Implement the fake with function fields for each interface method
//  3. Record calls so tests can assert on them
package mocks
