package channel

import (
	"log/slog"

	"github.com/roach88/mutate/internal/ir"
)

// LoggingMiddleware logs every committed entry at debug level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next DispatchFunc) DispatchFunc {
		return func(a ir.Action) Entry {
			e := next(a)
			logger.Debug("action dispatched",
				"seq", e.Seq,
				"type", a.Type,
				"fetch", a.Meta.Fetch,
				"resource", a.Meta.Resource,
				"correlation", a.Correlation,
			)
			return e
		}
	}
}
