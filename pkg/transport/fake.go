package transport

import "context"

// FakeHandler produces a canned Response or error for a given Request,
// used by tests that need a Transport without a real network call.
type FakeHandler func(req Request) (Response, error)

// Fake is an in-memory Transport driven by a handler function, grounded
// on the plain-function adapter shape used elsewhere in this codebase for
// wrapping funcs as interfaces.
type Fake struct {
	Handler FakeHandler
	Calls   []Request
}

// Do implements Transport.
func (f *Fake) Do(ctx context.Context, req Request) (Response, error) {
	f.Calls = append(f.Calls, req)
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	if f.Handler == nil {
		return Response{StatusCode: 200}, nil
	}
	return f.Handler(req)
}
