package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Validator is implemented by configuration structs that check their own invariants.
// Load calls Validate after parsing and refuses to cache invalid values.
type Validator interface {
	Validate() error
}

type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	cache  sync.Map // reflect.Type -> *entry
	dotenv sync.Once
	envMu  sync.Mutex
)

// LoadEnv loads variables from the given .env files into the process environment.
// Variables that are already set are not overridden. Without arguments the .env file of
// the working directory is loaded. Missing files are reported as errors.
func LoadEnv(paths ...string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if err := godotenv.Load(paths...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// Load parses environment variables into v using `env` struct tags.
// Every configuration type is parsed once per process; later calls copy the cached value.
// The default .env file is loaded on first use when present.
//
// Example:
//
//	type SchedulerConfig struct {
//		CheckInterval time.Duration `env:"SCHEDULER_CHECK_INTERVAL" envDefault:"1m"`
//	}
//
//	var cfg SchedulerConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenv.Do(func() {
		// A missing .env is the normal case outside local development.
		_ = godotenv.Load()
	})

	key := reflect.TypeFor[T]()
	raw, _ := cache.LoadOrStore(key, &entry{})
	e := raw.(*entry)

	e.once.Do(func() {
		var parsed T
		if err := env.Parse(&parsed); err != nil {
			e.err = errors.Join(ErrParsingConfig, err)
			return
		}
		if val, ok := any(&parsed).(Validator); ok {
			if err := val.Validate(); err != nil {
				e.err = errors.Join(ErrInvalidConfig, err)
				return
			}
		}
		e.value = parsed
	})

	if e.err != nil {
		// Drop the failed entry so a corrected environment can be loaded again.
		cache.CompareAndDelete(key, e)
		return e.err
	}
	cached, ok := e.value.(T)
	if !ok {
		return ErrConfigNotLoaded
	}
	*v = cached
	return nil
}

// MustLoad is like Load but panics on failure. Use it during process startup.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: failed to load %T: %v", *v, err))
	}
}

// Reset drops every cached configuration. Intended for tests.
func Reset() {
	cache.Range(func(key, _ any) bool {
		cache.Delete(key)
		return true
	})
}
