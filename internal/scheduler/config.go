package scheduler

import (
	"time"

	"github.com/smallbiznis/boxoffice/internal/config"
)

const defaultLockKey = "boxoffice:scheduler:payouts"

// Config controls how the scheduler is started and coordinated.
type Config struct {
	AutoStart bool
	LockKey   string
	// LockTTL bounds how long another instance waits on a crashed holder.
	// Zero derives it from the payout run timeout.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		AutoStart: true,
		LockKey:   defaultLockKey,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.AutoStart = cfg.SchedulerAutoStart
	return c
}

func (c Config) withDefaults(policy config.PayoutPolicy) Config {
	if c.LockKey == "" {
		c.LockKey = defaultLockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = policy.RunTimeout + time.Minute
	}
	return c
}
