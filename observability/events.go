package observability

import (
	"log/slog"

	"stakevault/core/events"
	"stakevault/observability/metrics"
)

// LogEmitter forwards engine events to structured logs and the event counter.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements events.Emitter.
func (e LogEmitter) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	payload := ev.Event()
	metrics.CountEvent(payload.Type)
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := make([]any, 0, len(payload.Attributes)*2)
	for key, value := range payload.Attributes {
		args = append(args, slog.String(key, value))
	}
	logger.Info(payload.Type, args...)
}
