package queue

import "time"

// Config holds the scheduler settings. Job schedules are owned by the binary.
type Config struct {
	CheckInterval time.Duration `env:"SCHEDULER_CHECK_INTERVAL" envDefault:"30s"`
	TaskTimeout   time.Duration `env:"SCHEDULER_TASK_TIMEOUT" envDefault:"10m"`
	Enabled       bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
}
