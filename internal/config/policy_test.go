package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicyDefaults(t *testing.T) {
	v := viper.New()

	cfg, err := LoadPolicy(v)
	require.NoError(t, err)
	assert.Equal(t, int64(250), cfg.Fees.CancellationFeePerTicket)
	assert.Equal(t, "0.1", cfg.Fees.FeeRatio().String())
	assert.Equal(t, EmptyScopeReject, cfg.Refund.EmptyScope)
	assert.Equal(t, 4, cfg.Payout.Concurrency)

	hour, minute, err := cfg.Payout.DailyTime()
	require.NoError(t, err)
	assert.Equal(t, 2, hour)
	assert.Equal(t, 0, minute)
}

func TestLoadPolicyFromYAML(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	raw := `
policy:
  fees:
    platform_fee_ratio: "0.08"
    cancellation_fee_per_ticket: 300
  refund:
    empty_scope: ALL
  payout:
    run_at: "03:30"
    timezone: Asia/Jakarta
    gateway_timeout: 5s
`
	require.NoError(t, v.ReadConfig(strings.NewReader(raw)))

	cfg, err := LoadPolicy(v)
	require.NoError(t, err)
	assert.Equal(t, "0.08", cfg.Fees.FeeRatio().String())
	assert.Equal(t, int64(300), cfg.Fees.CancellationFeePerTicket)
	assert.Equal(t, EmptyScopeAll, cfg.Refund.EmptyScope)
	assert.Equal(t, 5*time.Second, cfg.Payout.GatewayTimeout)
	assert.Equal(t, "Asia/Jakarta", cfg.Payout.Location().String())
	assert.Equal(t, 100, cfg.Payout.BatchSize)
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"ratio":    "policy:\n  fees:\n    platform_fee_ratio: \"1.5\"\n",
		"scope":    "policy:\n  refund:\n    empty_scope: maybe\n",
		"run_at":   "policy:\n  payout:\n    run_at: \"25:99\"\n",
		"timezone": "policy:\n  payout:\n    timezone: Mars/Olympus\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			v.SetConfigType("yaml")
			require.NoError(t, v.ReadConfig(strings.NewReader(raw)))
			_, err := LoadPolicy(v)
			assert.Error(t, err)
		})
	}
}
