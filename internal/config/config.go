// Package config carga la configuración del servicio desde YAML con
// overrides por variables de entorno.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr            string   `yaml:"addr"`
		MetricsAddr     string   `yaml:"metrics_addr"`
		ShutdownTimeout string   `yaml:"shutdown_timeout"`
		AllowedOrigins  []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	// Auth de la capa de transporte: validación del bearer token que
	// identifica al caller (la autenticación ocurre fuera del núcleo).
	Auth struct {
		// Secreto HMAC para validar los tokens del gateway (HS256).
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	MFA struct {
		// Intentos fallidos consecutivos antes del lockout.
		MaxAttempts int `yaml:"max_attempts"`
		// Duración del lockout (hard stop, no backoff exponencial).
		LockoutDuration string `yaml:"lockout_duration"`
		// Vigencia de un OTP de SMS/EMAIL.
		OTPTTL string `yaml:"otp_ttl"`
		// Cooldown entre reenvíos de OTP.
		ResendCooldown string `yaml:"resend_cooldown"`
		// Issuer para la URL otpauth:// (QR de authenticator apps).
		TOTPIssuer string `yaml:"totp_issuer"`
		// Tolerancia de ventana TOTP en pasos de 30s (0..3).
		TOTPWindow int `yaml:"totp_window"`
		// Vigencia de un trusted device ("recordar este dispositivo").
		RememberTTL string `yaml:"remember_ttl"`
		// Vigencia del token de recovery.
		RecoveryTTL string `yaml:"recovery_ttl"`
		// Cantidad de backup codes por set.
		BackupCodeCount int `yaml:"backup_code_count"`
	} `yaml:"mfa"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"` // auto|starttls|ssl|none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"smtp"`

	SMS struct {
		// URL del gateway SMS interno; vacío = sender de log (dev).
		GatewayURL string `yaml:"gateway_url"`
		APIKey     string `yaml:"api_key"`
		From       string `yaml:"from"`
	} `yaml:"sms"`

	Security struct {
		PasswordPolicy struct {
			MinLength     int  `yaml:"min_length"`
			RequireUpper  bool `yaml:"require_upper"`
			RequireLower  bool `yaml:"require_lower"`
			RequireDigit  bool `yaml:"require_digit"`
			RequireSymbol bool `yaml:"require_symbol"`
		} `yaml:"password_policy"`
		PasswordBlacklistPath string `yaml:"password_blacklist_path"`
	} `yaml:"security"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Setup   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"setup"`
		Verify struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"verify"`
		Recovery struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"recovery"`
	} `yaml:"rate"`
}

// Load lee el YAML (path vacío = sólo defaults+env) y aplica overrides de env.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.MFA.MaxAttempts == 0 {
		c.MFA.MaxAttempts = 5
	}
	if c.MFA.LockoutDuration == "" {
		c.MFA.LockoutDuration = "15m"
	}
	if c.MFA.OTPTTL == "" {
		c.MFA.OTPTTL = "10m"
	}
	if c.MFA.ResendCooldown == "" {
		c.MFA.ResendCooldown = "60s"
	}
	if c.MFA.TOTPIssuer == "" {
		c.MFA.TOTPIssuer = "Salus"
	}
	if c.MFA.TOTPWindow < 0 || c.MFA.TOTPWindow > 3 {
		c.MFA.TOTPWindow = 1
	}
	if c.MFA.RememberTTL == "" {
		c.MFA.RememberTTL = "720h" // 30d
	}
	if c.MFA.RecoveryTTL == "" {
		c.MFA.RecoveryTTL = "30m"
	}
	if c.MFA.BackupCodeCount == 0 {
		c.MFA.BackupCodeCount = 10
	}
	if c.Security.PasswordPolicy.MinLength == 0 {
		c.Security.PasswordPolicy.MinLength = 10
	}
	if c.Rate.Setup.Limit == 0 {
		c.Rate.Setup.Limit = 3
	}
	if c.Rate.Setup.Window == "" {
		c.Rate.Setup.Window = "10m"
	}
	if c.Rate.Verify.Limit == 0 {
		c.Rate.Verify.Limit = 10
	}
	if c.Rate.Verify.Window == "" {
		c.Rate.Verify.Window = "1m"
	}
	if c.Rate.Recovery.Limit == 0 {
		c.Rate.Recovery.Limit = 3
	}
	if c.Rate.Recovery.Window == "" {
		c.Rate.Recovery.Window = "30m"
	}

	c.applyEnv()
	return &c, nil
}

// IsProd indica si corre en producción. El echo de OTPs en respuestas de
// setup/resend queda hard-gated sobre esto.
func (c *Config) IsProd() bool {
	return strings.EqualFold(strings.TrimSpace(c.App.Env), "prod")
}

// MustDuration parsea un campo duración ya defaulteado en Load.
func MustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: duración inválida %q: %v", s, err))
	}
	return d
}

// applyEnv aplica overrides de variables de entorno.
func (c *Config) applyEnv() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("METRICS_ADDR"); ok {
		c.Server.MetricsAddr = v
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("AUTH_JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := getEnvStr("AUTH_ISSUER"); ok {
		c.Auth.Issuer = v
	}
	if v, ok := getEnvInt("MFA_MAX_ATTEMPTS"); ok {
		c.MFA.MaxAttempts = v
	}
	if v, ok := getEnvStr("MFA_LOCKOUT_DURATION"); ok {
		c.MFA.LockoutDuration = v
	}
	if v, ok := getEnvStr("MFA_OTP_TTL"); ok {
		c.MFA.OTPTTL = v
	}
	if v, ok := getEnvStr("MFA_TOTP_ISSUER"); ok {
		c.MFA.TOTPIssuer = v
	}
	if v, ok := getEnvInt("MFA_TOTP_WINDOW"); ok && v >= 0 && v <= 3 {
		c.MFA.TOTPWindow = v
	}
	if v, ok := getEnvStr("MFA_REMEMBER_TTL"); ok {
		c.MFA.RememberTTL = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SMS_GATEWAY_URL"); ok {
		c.SMS.GatewayURL = v
	}
	if v, ok := getEnvStr("SMS_API_KEY"); ok {
		c.SMS.APIKey = v
	}
	if v, ok := getEnvStr("SECURITY_PASSWORD_BLACKLIST_PATH"); ok {
		c.Security.PasswordBlacklistPath = strings.TrimSpace(v)
	}
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b, true
		}
	}
	return false, false
}
