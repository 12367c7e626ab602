package queue

import "errors"

var (
	ErrInvalidSchedule        = errors.New("invalid schedule format")
	ErrTaskAlreadyRegistered  = errors.New("task already registered")
	ErrTaskNotFound           = errors.New("task not registered")
	ErrTaskRunning            = errors.New("task is already running")
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered tasks")
	ErrNoScheduleSpecified    = errors.New("no schedule specified for periodic task")
	ErrHandlerNil             = errors.New("task handler cannot be nil")
	ErrTaskPanicked           = errors.New("task panicked")
)
