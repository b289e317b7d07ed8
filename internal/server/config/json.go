package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/flagx"
	"github.com/dmitrijs2005/credkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations go through
// timex.Duration so both "5m" and integer nanoseconds are accepted. Pointer
// fields distinguish "absent" from the zero value.
type JsonConfig struct {
	EndpointAddrHTTP             *string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC             *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  *string         `json:"database_dsn"`
	SecretKey                    *string         `json:"secret_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	MFATokenValidityDuration     *timex.Duration `json:"mfa_token_validity_duration"`

	EncryptionKey *string `json:"encryption_key"`
	KeyDerivation *string `json:"key_derivation"`
	BcryptCost    *int    `json:"bcrypt_cost"`

	WebAuthnRPID                   *string         `json:"webauthn_rp_id"`
	WebAuthnRPDisplayName          *string         `json:"webauthn_rp_display_name"`
	WebAuthnRPOrigins              []string        `json:"webauthn_rp_origins"`
	WebAuthnSessionTTL             *timex.Duration `json:"webauthn_session_ttl"`
	WebAuthnSweepInterval          *timex.Duration `json:"webauthn_sweep_interval"`
	AllowCounterlessAuthenticators *bool           `json:"allow_counterless_authenticators"`

	StoreTimeout           *timex.Duration `json:"store_timeout"`
	RateLimitStore         *string         `json:"rate_limit_store"`
	RateLimitSweepInterval *timex.Duration `json:"rate_limit_sweep_interval"`
	MFAResendLimit         *int            `json:"mfa_resend_limit"`
	MFAResendWindow        *timex.Duration `json:"mfa_resend_window"`
	PasswordResetValidity  *timex.Duration `json:"password_reset_validity"`

	HTTPRequestsPerSecond *float64 `json:"http_requests_per_second"`
	HTTPBurst             *int     `json:"http_burst"`
	MaxBodyBytes          *int64   `json:"max_body_bytes"`
	CORSAllowedOrigins    []string `json:"cors_allowed_origins"`
	TrustedProxies        []string `json:"trusted_proxies"`
}

// parseJson loads the file named by -c/-config, if any, and copies the
// fields it sets into config. An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	set(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	set(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.MFATokenValidityDuration, c.MFATokenValidityDuration)

	set(&config.EncryptionKey, c.EncryptionKey)
	set(&config.KeyDerivation, c.KeyDerivation)
	set(&config.BcryptCost, c.BcryptCost)

	set(&config.WebAuthnRPID, c.WebAuthnRPID)
	set(&config.WebAuthnRPDisplayName, c.WebAuthnRPDisplayName)
	if c.WebAuthnRPOrigins != nil {
		config.WebAuthnRPOrigins = c.WebAuthnRPOrigins
	}
	setDuration(&config.WebAuthnSessionTTL, c.WebAuthnSessionTTL)
	setDuration(&config.WebAuthnSweepInterval, c.WebAuthnSweepInterval)
	set(&config.AllowCounterlessAuthenticators, c.AllowCounterlessAuthenticators)

	setDuration(&config.StoreTimeout, c.StoreTimeout)
	set(&config.RateLimitStore, c.RateLimitStore)
	setDuration(&config.RateLimitSweepInterval, c.RateLimitSweepInterval)
	set(&config.MFAResendLimit, c.MFAResendLimit)
	setDuration(&config.MFAResendWindow, c.MFAResendWindow)
	setDuration(&config.PasswordResetValidity, c.PasswordResetValidity)

	set(&config.HTTPRequestsPerSecond, c.HTTPRequestsPerSecond)
	set(&config.HTTPBurst, c.HTTPBurst)
	set(&config.MaxBodyBytes, c.MaxBodyBytes)
	if c.CORSAllowedOrigins != nil {
		config.CORSAllowedOrigins = c.CORSAllowedOrigins
	}
	if c.TrustedProxies != nil {
		config.TrustedProxies = c.TrustedProxies
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
