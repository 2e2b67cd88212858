package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EmptyScopeReject = "reject"
	EmptyScopeAll    = "all"
)

// Policy carries the money and batch knobs operators tune without a deploy.
type Policy struct {
	Fees   FeePolicy    `mapstructure:"fees"`
	Refund RefundPolicy `mapstructure:"refund"`
	Payout PayoutPolicy `mapstructure:"payout"`
}

type FeePolicy struct {
	PlatformFeeRatio string `mapstructure:"platform_fee_ratio"`
	// Minor units, applied regardless of currency.
	CancellationFeePerTicket int64 `mapstructure:"cancellation_fee_per_ticket"`
}

type RefundPolicy struct {
	EmptyScope     string        `mapstructure:"empty_scope"`
	ExecutionLease time.Duration `mapstructure:"execution_lease"`
	GatewayTimeout time.Duration `mapstructure:"gateway_timeout"`
}

type PayoutPolicy struct {
	RunAt                string        `mapstructure:"run_at"`
	Timezone             string        `mapstructure:"timezone"`
	Concurrency          int           `mapstructure:"concurrency"`
	BatchSize            int           `mapstructure:"batch_size"`
	RunTimeout           time.Duration `mapstructure:"run_timeout"`
	GatewayTimeout       time.Duration `mapstructure:"gateway_timeout"`
	GatewayRatePerSecond float64       `mapstructure:"gateway_rate_per_second"`
	GatewayBurst         int           `mapstructure:"gateway_burst"`
}

func DefaultPolicy() Policy {
	return Policy{
		Fees: FeePolicy{
			PlatformFeeRatio:         "0.10",
			CancellationFeePerTicket: 250,
		},
		Refund: RefundPolicy{
			EmptyScope:     EmptyScopeReject,
			ExecutionLease: 15 * time.Minute,
			GatewayTimeout: 20 * time.Second,
		},
		Payout: PayoutPolicy{
			RunAt:                "02:00",
			Timezone:             "UTC",
			Concurrency:          4,
			BatchSize:            100,
			RunTimeout:           30 * time.Minute,
			GatewayTimeout:       30 * time.Second,
			GatewayRatePerSecond: 10,
			GatewayBurst:         5,
		},
	}
}

// FeeRatio returns the validated platform fee ratio.
func (f FeePolicy) FeeRatio() decimal.Decimal {
	ratio, err := decimal.NewFromString(strings.TrimSpace(f.PlatformFeeRatio))
	if err != nil {
		return decimal.RequireFromString(DefaultPolicy().Fees.PlatformFeeRatio)
	}
	return ratio
}

// Location resolves the payout timezone, falling back to UTC.
func (p PayoutPolicy) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(p.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

// DailyTime parses RunAt as HH:MM.
func (p PayoutPolicy) DailyTime() (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(p.RunAt))
	if err != nil {
		return 0, 0, fmt.Errorf("payout.run_at %q: %w", p.RunAt, err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/boxoffice")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOXOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setPolicyDefaults(v)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := LoadPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := LoadPolicy(v)
		if err != nil {
			log.Printf("[policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder wraps a fixed policy.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	return h.current.Load().(Policy)
}

// LoadPolicy decodes and validates the policy section of v.
func LoadPolicy(v *viper.Viper) (Policy, error) {
	setPolicyDefaults(v)
	var doc struct {
		Policy Policy `mapstructure:"policy"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return Policy{}, err
	}
	cfg := doc.Policy
	cfg.Refund.EmptyScope = strings.ToLower(strings.TrimSpace(cfg.Refund.EmptyScope))
	if err := validatePolicy(cfg); err != nil {
		return Policy{}, err
	}
	return cfg, nil
}

func setPolicyDefaults(v *viper.Viper) {
	d := DefaultPolicy()
	v.SetDefault("policy.fees.platform_fee_ratio", d.Fees.PlatformFeeRatio)
	v.SetDefault("policy.fees.cancellation_fee_per_ticket", d.Fees.CancellationFeePerTicket)
	v.SetDefault("policy.refund.empty_scope", d.Refund.EmptyScope)
	v.SetDefault("policy.refund.execution_lease", d.Refund.ExecutionLease)
	v.SetDefault("policy.refund.gateway_timeout", d.Refund.GatewayTimeout)
	v.SetDefault("policy.payout.run_at", d.Payout.RunAt)
	v.SetDefault("policy.payout.timezone", d.Payout.Timezone)
	v.SetDefault("policy.payout.concurrency", d.Payout.Concurrency)
	v.SetDefault("policy.payout.batch_size", d.Payout.BatchSize)
	v.SetDefault("policy.payout.run_timeout", d.Payout.RunTimeout)
	v.SetDefault("policy.payout.gateway_timeout", d.Payout.GatewayTimeout)
	v.SetDefault("policy.payout.gateway_rate_per_second", d.Payout.GatewayRatePerSecond)
	v.SetDefault("policy.payout.gateway_burst", d.Payout.GatewayBurst)
}

func validatePolicy(cfg Policy) error {
	ratio, err := decimal.NewFromString(strings.TrimSpace(cfg.Fees.PlatformFeeRatio))
	if err != nil {
		return fmt.Errorf("policy.fees.platform_fee_ratio: %w", err)
	}
	if ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("policy.fees.platform_fee_ratio must be within [0, 1]")
	}
	if cfg.Fees.CancellationFeePerTicket < 0 {
		return errors.New("policy.fees.cancellation_fee_per_ticket cannot be negative")
	}
	switch cfg.Refund.EmptyScope {
	case EmptyScopeReject, EmptyScopeAll:
	default:
		return fmt.Errorf("policy.refund.empty_scope %q is not one of reject, all", cfg.Refund.EmptyScope)
	}
	if _, _, err := cfg.Payout.DailyTime(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Payout.Timezone)); err != nil {
		return fmt.Errorf("policy.payout.timezone: %w", err)
	}
	if cfg.Payout.Concurrency <= 0 {
		return errors.New("policy.payout.concurrency must be positive")
	}
	if cfg.Payout.BatchSize <= 0 {
		return errors.New("policy.payout.batch_size must be positive")
	}
	return nil
}
