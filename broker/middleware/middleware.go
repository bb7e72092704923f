// Package middleware provides cross-cutting ReceiveFunc wrappers —
// logging, panic recovery, metrics collection — adapted from the
// teacher's core/middleware package to wrap a module's Receive
// invocation instead of an HTTP handler.
package middleware

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/modbroker/gwbroker/broker"
	"github.com/modbroker/gwbroker/log"
	"github.com/modbroker/gwbroker/message"
)

// Logging returns middleware that logs each Receive invocation's
// outcome and duration, grounded on core/middleware/logging.go.
func Logging() broker.ReceiveMiddleware {
	logger := log.WithComponent("receive")
	return func(next broker.ReceiveFunc) broker.ReceiveFunc {
		return func(h broker.Handle, msg message.Message) error {
			start := time.Now()
			err := next(h, msg)
			elapsed := time.Since(start)
			if err != nil {
				logger.Error().Str("module", h.String()).Dur("elapsed", elapsed).Err(err).Msg("receive failed")
			} else {
				logger.Debug().Str("module", h.String()).Dur("elapsed", elapsed).Msg("receive ok")
			}
			return err
		}
	}
}

// Recovery returns middleware that converts a panic inside a module's
// Receive into an error, so one misbehaving module cannot take down its
// worker goroutine (and, via that, the broker's ability to drain its
// direct queues). Grounded on core/middleware/recovery.go.
func Recovery() broker.ReceiveMiddleware {
	logger := log.WithComponent("receive")
	return func(next broker.ReceiveFunc) broker.ReceiveFunc {
		return func(h broker.Handle, msg message.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().
						Str("module", h.String()).
						Str("stack", string(debug.Stack())).
						Msg("recovered panic in receive")
					err = fmt.Errorf("module %s panicked: %v", h, r)
				}
			}()
			return next(h, msg)
		}
	}
}

// Collector is the metrics sink a Metrics middleware reports to.
// Implementations adapt it onto whatever backend they front — gwbroker's
// own prometheus-backed collector in package metrics, a test double, or
// nothing at all.
type Collector interface {
	ObserveReceive(module string, elapsed time.Duration, err error)
}

// Metrics returns middleware that reports every Receive invocation to c.
func Metrics(c Collector) broker.ReceiveMiddleware {
	return func(next broker.ReceiveFunc) broker.ReceiveFunc {
		return func(h broker.Handle, msg message.Message) error {
			start := time.Now()
			err := next(h, msg)
			c.ObserveReceive(h.String(), time.Since(start), err)
			return err
		}
	}
}
