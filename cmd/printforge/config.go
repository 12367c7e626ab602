package main

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dmitrymomot/printforge/pkg/queue"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

const (
	auditPostgres = "postgres"
	auditMongo    = "mongo"

	storageLocal = "local"
	storageS3    = "s3"
)

var errInvalidAppConfig = errors.New("invalid application config")

// appConfig holds the settings owned by the binary itself. Infrastructure packages load
// their own Config structs.
type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"APP_NAME" envDefault:"printforge"`

	GracePeriod      time.Duration `env:"GRACE_PERIOD" envDefault:"720h"`
	GatewayTimeout   time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	PurgeConcurrency int           `env:"PURGE_CONCURRENCY" envDefault:"4"`
	TierTablePath    string        `env:"TIER_TABLE_PATH"`
	RenewURL         string        `env:"RENEW_URL" envDefault:"https://printforge.app/settings/billing"`
	HealthTimeout    time.Duration `env:"HEALTH_TIMEOUT" envDefault:"2s"`

	AuditBackend    string `env:"AUDIT_BACKEND" envDefault:"postgres"`
	StorageBackend  string `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalStorageDir string `env:"LOCAL_STORAGE_DIR" envDefault:"uploads"`
	LocalStorageURL string `env:"LOCAL_STORAGE_URL" envDefault:"http://localhost:8080/uploads"`

	ExpireTrialsSchedule    string `env:"SCHEDULE_EXPIRE_TRIALS" envDefault:"every 1h"`
	FinalizeCancelSchedule  string `env:"SCHEDULE_FINALIZE_CANCELLATIONS" envDefault:"hourly at :15"`
	PurgeGraceSchedule      string `env:"SCHEDULE_PURGE_GRACE_PERIODS" envDefault:"daily at 03:00"`
	NotifyMilestoneSchedule string `env:"SCHEDULE_NOTIFY_MILESTONES" envDefault:"daily at 09:00"`
}

func (c *appConfig) Validate() error {
	var errs []error
	if c.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("GRACE_PERIOD must be positive, got %s", c.GracePeriod))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", c.GatewayTimeout))
	}
	switch c.AuditBackend {
	case auditPostgres, auditMongo:
	default:
		errs = append(errs, fmt.Errorf("AUDIT_BACKEND must be %q or %q, got %q", auditPostgres, auditMongo, c.AuditBackend))
	}
	switch c.StorageBackend {
	case storageLocal, storageS3:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", storageLocal, storageS3, c.StorageBackend))
	}
	if u, err := url.Parse(c.RenewURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("RENEW_URL must be an absolute URL, got %q", c.RenewURL))
	}
	for job, spec := range c.schedules() {
		if _, err := queue.ParseSchedule(spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule of %s: %w", job, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{errInvalidAppConfig}, errs...)...)
	}
	return nil
}

// schedules maps sweep names to their schedule expressions.
func (c *appConfig) schedules() map[string]string {
	return map[string]string{
		sub.JobExpireTrials:          c.ExpireTrialsSchedule,
		sub.JobFinalizeCancellations: c.FinalizeCancelSchedule,
		sub.JobPurgeGracePeriods:     c.PurgeGraceSchedule,
		sub.JobNotifyMilestones:      c.NotifyMilestoneSchedule,
	}
}

// tierTable loads the configured tier table, or the built-in one when no path is set.
func (c *appConfig) tierTable() (sub.TierTable, error) {
	if c.TierTablePath == "" {
		return sub.DefaultTierTable(), nil
	}
	return sub.LoadTierTableFile(c.TierTablePath)
}
