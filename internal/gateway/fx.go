package gateway

import (
	"fmt"

	"github.com/smallbiznis/boxoffice/internal/config"
	"github.com/smallbiznis/boxoffice/internal/gateway/adapters"
	"github.com/smallbiznis/boxoffice/internal/gateway/adapters/sandbox"
	"github.com/smallbiznis/boxoffice/internal/gateway/adapters/stripe"
	"github.com/smallbiznis/boxoffice/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/boxoffice/internal/observability/metrics"
	"github.com/smallbiznis/boxoffice/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(newRegistry),
	fx.Provide(provideGateway),
)

func newRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewFactory(),
		sandbox.NewFactory(),
	)
}

type Params struct {
	fx.In

	Config    config.Config
	Policies  *config.PolicyHolder
	Registry  *adapters.Registry
	Bucket    *ratelimit.TokenBucket       `optional:"true"`
	Metrics   *obsmetrics.Metrics          `optional:"true"`
	Scheduler *obsmetrics.SchedulerMetrics `optional:"true"`
	Log       *zap.Logger
}

func provideGateway(p Params) (domain.Gateway, error) {
	provider := p.Config.Gateway.Provider
	if p.Config.IsProduction() && provider == "sandbox" {
		return nil, fmt.Errorf("%w: sandbox gateway is not allowed in production", domain.ErrInvalidConfig)
	}

	adapter, err := p.Registry.NewAdapter(provider, domain.AdapterConfig{
		SecretKey: p.Config.Gateway.StripeSecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway %q: %w", provider, err)
	}

	payout := p.Policies.Get().Payout
	limiter := ratelimit.NewLocalLimiter(payout.GatewayRatePerSecond, payout.GatewayBurst)
	if p.Bucket != nil && payout.GatewayRatePerSecond > 0 {
		shared, err := ratelimit.NewBucketLimiter(p.Bucket, "boxoffice:gateway:"+adapter.Provider()+":transfers", payout.GatewayRatePerSecond, payout.GatewayBurst)
		if err != nil {
			return nil, err
		}
		limiter = shared
	}

	p.Log.Info("payment gateway configured", zap.String("provider", adapter.Provider()))
	return NewGuarded(adapter, GuardOptions{
		Policies:  p.Policies,
		Limiter:   limiter,
		Metrics:   p.Metrics,
		Scheduler: p.Scheduler,
		Log:       p.Log,
	}), nil
}
