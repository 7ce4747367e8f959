package stackauth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds service-level settings parsed from the environment.
// Per-project policy is not configured here; it arrives on each
// RequestContext from the external config system.
type Config struct {
	Addr    string `env:"STACK_ADDR" envDefault:":8102"`
	BaseURL string `env:"STACK_BASE_URL" envDefault:"http://localhost:8102"`
	Issuer  string `env:"STACK_TOKEN_ISSUER" envDefault:"stack-auth"`

	AccessTokenTTL     time.Duration `env:"STACK_ACCESS_TOKEN_TTL" envDefault:"1h"`
	OTPCodeTTL         time.Duration `env:"STACK_OTP_CODE_TTL" envDefault:"30m"`
	OAuthFlowTTL       time.Duration `env:"STACK_OAUTH_FLOW_TTL" envDefault:"10m"`
	VerificationTTL    time.Duration `env:"STACK_VERIFICATION_CODE_TTL" envDefault:"24h"`
	SessionIdleTimeout time.Duration `env:"STACK_SESSION_IDLE_TIMEOUT" envDefault:"0"`

	// CookieSecret signs the OAuth inner cookie. Required outside tests.
	CookieSecret string `env:"STACK_COOKIE_SECRET"`

	// SuperSecretAdminKey gates admin access-type requests.
	SuperSecretAdminKey string `env:"STACK_SUPER_SECRET_ADMIN_KEY"`

	// DatabaseURL selects the storage adapter; sqlite file paths and
	// postgres URLs are both accepted by stores/gorm.Open.
	DatabaseURL string `env:"STACK_DATABASE_URL" envDefault:"stackauth.db"`

	WebhookURL string `env:"STACK_WEBHOOK_URL"`
}

// ConfigFromEnv parses Config from process environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment config: %w", err)
	}
	return cfg, nil
}
