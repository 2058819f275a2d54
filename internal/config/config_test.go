//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrimony-billing/internal/domain/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.Payment.GatewayTimeout)
	assert.Equal(t, "@every 5m", cfg.Scheduler.ReconcileCron)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.StaleAfter)
	assert.Equal(t, 3*time.Hour, cfg.Scheduler.AbandonAfter)
	assert.Equal(t, "https://api-m.sandbox.paypal.com", cfg.Payment.PayPal.APIBase)

	table, err := cfg.PriceTable()
	require.NoError(t, err)
	price, ok := table.Price("premium", "USD")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("0.50")))
	assert.True(t, table["golden_premium"].Lifetime)
}

func TestLoadConfig_MissingSecretsAreNotFatal(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "PAYPAL_CLIENT_ID", "PAYPAL_CLIENT_SECRET", "EPOINT_PRIVATE_KEY", "AUTH_JWT_SECRET"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadConfig("", false)
	require.NoError(t, err)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Payment.PayPal.ClientID)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, `
http:
  port: 9090
  public_base_url: https://billing.example.com/
database:
  url: postgres://file
payment:
  paypal:
    client_id: from-file
`)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("PAYPAL_CLIENT_ID", "from-env")

	cfg, err := LoadConfig(p, true)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "postgres://env", cfg.Database.URL)
	assert.Equal(t, "from-env", cfg.Payment.PayPal.ClientID)
	assert.Equal(t, "https://billing.example.com/payment/result?status=success", cfg.Payment.PayPal.ReturnURL)
	assert.Equal(t, "https://billing.example.com/payment/result?status=cancel", cfg.Payment.Epoint.ErrorURL)
	assert.True(t, cfg.Runtime.Dev)
}

func TestPriceTable_Validation(t *testing.T) {
	cases := map[string]string{
		"negative":  "payment:\n  packages:\n    - id: premium\n      prices: {USD: \"-1\"}\n",
		"garbage":   "payment:\n  packages:\n    - id: premium\n      prices: {USD: \"abc\"}\n",
		"duplicate": "payment:\n  packages:\n    - id: premium\n    - id: PREMIUM\n",
		"empty id":  "payment:\n  packages:\n    - name: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body), false)
			assert.Error(t, err)
		})
	}
}

func TestPriceTable_CustomCatalogue(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
payment:
  packages:
    - id: Premium
      prices: {usd: "1.005"}
`), false)
	require.NoError(t, err)
	table, err := cfg.PriceTable()
	require.NoError(t, err)

	pkg, ok := table.Lookup(model.PackageID("premium"))
	require.True(t, ok)
	assert.Equal(t, "premium", pkg.Name)
	assert.Equal(t, "1.01", pkg.Prices["USD"].StringFixed(2))
}
