package broker

import "github.com/modbroker/gwbroker/message"

// ReceiveFunc is the internal, error-returning form of a module's
// Receive callback. The module contract itself (Instance.Receive) never
// returns an error — middleware operates on this wrapper so cross-cutting
// behavior (logging, panic recovery, metrics) has something to observe
// without changing the module-facing contract in spec §6.
type ReceiveFunc func(h Handle, msg message.Message) error

// ReceiveMiddleware wraps a ReceiveFunc, mirroring the teacher's
// core.MiddlewareFunc composition (core/context.go in the broker pack):
// concrete middlewares live in the sibling broker/middleware package and
// import this type, so this package never depends on them.
type ReceiveMiddleware func(ReceiveFunc) ReceiveFunc

func chain(h ReceiveFunc, mws []ReceiveMiddleware) ReceiveFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
