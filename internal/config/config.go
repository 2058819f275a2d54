package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"matrimony-billing/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PublicBaseURL  string        `yaml:"public_base_url"` // used to build return/callback urls
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	APIKey string `yaml:"api_key"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // signing secret of the hosted auth provider
	Audience  string `yaml:"audience"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type PayPalConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	APIBase      string `yaml:"api_base"`
	ReturnURL    string `yaml:"return_url"`
	CancelURL    string `yaml:"cancel_url"`
	BrandName    string `yaml:"brand_name"`
}

type EpointConfig struct {
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`
	APIBase    string `yaml:"api_base"`
	SuccessURL string `yaml:"success_url"`
	ErrorURL   string `yaml:"error_url"`
	Language   string `yaml:"language"`
}

type PaymentConfig struct {
	GatewayTimeout    time.Duration `yaml:"gateway_timeout"`
	CheckoutRateLimit int           `yaml:"checkout_rate_limit"` // per user per minute; negative disables
	PayPal            PayPalConfig  `yaml:"paypal"`
	Epoint            EpointConfig  `yaml:"epoint"`
	Packages          []PackageDef  `yaml:"packages"`
}

type PackageDef struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Prices   map[string]string `yaml:"prices"` // currency -> decimal string
	Lifetime bool              `yaml:"lifetime"`
}

type SchedulerConfig struct {
	ReconcileCron   string        `yaml:"reconcile_cron"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	AbandonAfter    time.Duration `yaml:"abandon_after"`
	BatchSize       int           `yaml:"batch_size"`
	NotifierWorkers int           `yaml:"notifier_workers"`
}

type AlertsConfig struct {
	Telegram struct {
		BotToken string  `yaml:"bot_token"`
		ChatIDs  []int64 `yaml:"chat_ids"`
	} `yaml:"telegram"`
	Email struct {
		SMTPHost string   `yaml:"smtp_host"`
		SMTPPort int      `yaml:"smtp_port"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		From     string   `yaml:"from"`
		To       []string `yaml:"to"`
	} `yaml:"email"`
}

type AuditConfig struct {
	S3 struct {
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"` // optional, S3-compatible storage
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Prefix    string `yaml:"prefix"`
	} `yaml:"s3"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Audit     AuditConfig     `yaml:"audit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file (optional when every setting comes from the
// environment), loads .env if present and applies environment overrides.
// Missing gateway, database or auth credentials are not an error here; they
// surface as configuration errors on the requests that need them.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
			// environment-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if _, err := cfg.PriceTable(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Database.URL, "DATABASE_URL")
	set(&cfg.Redis.URL, "REDIS_URL")
	set(&cfg.Redis.Password, "REDIS_PASSWORD")
	set(&cfg.Auth.JWTSecret, "AUTH_JWT_SECRET")
	set(&cfg.Admin.APIKey, "ADMIN_API_KEY")
	set(&cfg.Payment.PayPal.ClientID, "PAYPAL_CLIENT_ID")
	set(&cfg.Payment.PayPal.ClientSecret, "PAYPAL_CLIENT_SECRET")
	set(&cfg.Payment.PayPal.APIBase, "PAYPAL_API_BASE")
	set(&cfg.Payment.Epoint.PublicKey, "EPOINT_PUBLIC_KEY")
	set(&cfg.Payment.Epoint.PrivateKey, "EPOINT_PRIVATE_KEY")
	set(&cfg.Alerts.Telegram.BotToken, "ALERTS_TELEGRAM_BOT_TOKEN")
	set(&cfg.Alerts.Email.Password, "ALERTS_SMTP_PASSWORD")
	set(&cfg.Audit.S3.AccessKey, "AUDIT_S3_ACCESS_KEY")
	set(&cfg.Audit.S3.SecretKey, "AUDIT_S3_SECRET_KEY")
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Payment.GatewayTimeout <= 0 {
		cfg.Payment.GatewayTimeout = 15 * time.Second
	}
	if cfg.Payment.CheckoutRateLimit == 0 {
		cfg.Payment.CheckoutRateLimit = 5
	}
	if cfg.Payment.PayPal.APIBase == "" {
		cfg.Payment.PayPal.APIBase = "https://api-m.sandbox.paypal.com"
	}
	if cfg.Payment.Epoint.APIBase == "" {
		cfg.Payment.Epoint.APIBase = "https://epoint.az/api/1"
	}
	if cfg.Payment.Epoint.Language == "" {
		cfg.Payment.Epoint.Language = "en"
	}
	if base := strings.TrimRight(cfg.HTTP.PublicBaseURL, "/"); base != "" {
		ok, cancel := base+"/payment/result?status=success", base+"/payment/result?status=cancel"
		defaultString(&cfg.Payment.PayPal.ReturnURL, ok)
		defaultString(&cfg.Payment.PayPal.CancelURL, cancel)
		defaultString(&cfg.Payment.Epoint.SuccessURL, ok)
		defaultString(&cfg.Payment.Epoint.ErrorURL, cancel)
	}
	if len(cfg.Payment.Packages) == 0 {
		cfg.Payment.Packages = DefaultPackages()
	}

	if cfg.Scheduler.ReconcileCron == "" {
		cfg.Scheduler.ReconcileCron = "@every 5m"
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		cfg.Scheduler.StaleAfter = 15 * time.Minute
	}
	if cfg.Scheduler.AbandonAfter <= 0 {
		cfg.Scheduler.AbandonAfter = 3 * time.Hour
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 200
	}
	if cfg.Scheduler.NotifierWorkers <= 0 {
		cfg.Scheduler.NotifierWorkers = 2
	}
	if cfg.Alerts.Email.SMTPPort == 0 {
		cfg.Alerts.Email.SMTPPort = 587
	}
}

// DefaultPackages is the production catalogue (premium carries the test price).
func DefaultPackages() []PackageDef {
	return []PackageDef{
		{ID: "premium", Name: "Premium", Prices: map[string]string{"USD": "0.50", "AZN": "0.85"}},
		{ID: "vip_premium", Name: "VIP Premium", Prices: map[string]string{"USD": "200.00", "AZN": "340.00"}},
		{ID: "golden_premium", Name: "Golden Premium", Prices: map[string]string{"USD": "500.00", "AZN": "850.00"}, Lifetime: true},
	}
}

// PriceTable converts the configured packages into the domain catalogue.
func (c *Config) PriceTable() (model.PriceTable, error) {
	table := make(model.PriceTable, len(c.Payment.Packages))
	for _, def := range c.Payment.Packages {
		id := model.NormalizePackageID(def.ID)
		if id == "" {
			return nil, fmt.Errorf("payment.packages: empty id")
		}
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("payment.packages: duplicate id %q", id)
		}
		prices := make(map[string]decimal.Decimal, len(def.Prices))
		for cur, raw := range def.Prices {
			v, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("payment.packages[%s].prices[%s]: %w", id, cur, err)
			}
			if v.IsNegative() {
				return nil, fmt.Errorf("payment.packages[%s].prices[%s]: negative price", id, cur)
			}
			prices[strings.ToUpper(cur)] = v.Round(2)
		}
		name := def.Name
		if name == "" {
			name = string(id)
		}
		table[id] = model.Package{ID: id, Name: name, Prices: prices, Lifetime: def.Lifetime}
	}
	return table, nil
}

func defaultString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
