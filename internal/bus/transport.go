package bus

import "context"

// Transport performs a single raw transaction on the bus.
//
// Implementations return a Frame for the Driver to verify; they must not
// retry. Errors should wrap ErrDeviceAbsent, ErrIntegrityMismatch or
// ErrTimeout where the cause is known.
type Transport interface {
	Transfer(ctx context.Context, req Request) (Frame, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (Frame, error)

// Transfer calls f(ctx, req).
func (f TransportFunc) Transfer(ctx context.Context, req Request) (Frame, error) {
	return f(ctx, req)
}
