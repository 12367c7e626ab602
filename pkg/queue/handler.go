package queue

import "context"

// Handler is a named unit of periodic work.
type Handler interface {
	Name() string
	Handle(ctx context.Context) error
}

// PeriodicTaskHandlerFunc adapts a function to Handler.
type PeriodicTaskHandlerFunc func(ctx context.Context) error

// NewPeriodicTaskHandler names fn for registration with a Scheduler.
func NewPeriodicTaskHandler(name string, fn PeriodicTaskHandlerFunc) Handler {
	return &periodicTaskHandler{name: name, handler: fn}
}

type periodicTaskHandler struct {
	name    string
	handler PeriodicTaskHandlerFunc
}

func (h *periodicTaskHandler) Name() string { return h.name }

func (h *periodicTaskHandler) Handle(ctx context.Context) error {
	return h.handler(ctx)
}
