package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "LOCKSURE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "locksure.db"
	defaultLogLevel     = "info"
	defaultFormAction   = "/auth"
	defaultTokenTTL     = 3600
	defaultJWKSURL      = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	defaultFirebaseURL  = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"
	defaultManufacturer = "Locksure"
)

// Linking modes select which code-minting path a deployment runs.
const (
	LinkingModeForm     = "form"
	LinkingModeProvider = "provider"
)

// Access token strategies select what /token hands back to the assistant.
const (
	AccessTokenTokenMap = "token_map"
	AccessTokenUID      = "uid"
)

// Store drivers for authorization codes and issued tokens.
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverRedis  = "redis"
)

// Identity drivers for the inline sign-in form.
const (
	IdentityDriverLocal    = "local"
	IdentityDriverFirebase = "firebase"
)

// AppConfig captures runtime configuration for the gateway.
type AppConfig struct {
	HTTPAddress        string
	HTTPTrustedProxies []string
	DatabasePath       string
	LogLevel           string

	LinkingMode        string
	AccessTokenMode    string
	TokenExpiresIn     time.Duration
	ClientID           string
	ClientSecret       string
	FormAction         string
	StoreDriver        string
	RedisAddress       string
	RedisPassword      string
	AcceptDirectUserID bool

	IdentityDriver   string
	FirebaseAPIKey   string
	FirebaseEndpoint string
	JWKSURL          string
	IDTokenAudience  string
	IDTokenIssuers   []string

	ProviderAuthURL      string
	ProviderTokenURL     string
	ProviderClientID     string
	ProviderClientSecret string
	ProviderScopes       []string
	ProviderCallbackURL  string

	VerifyOwnership   bool
	ActuationEnabled  bool
	UnknownLockState  string
	ContactSensor     bool
	UnlockedDetection string
	ManufacturerName  string

	AuthRatePerMinute int
	AuthRateBurst     int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.trusted_proxies", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("linking.mode", LinkingModeForm)
	configViper.SetDefault("linking.access_token", AccessTokenTokenMap)
	configViper.SetDefault("linking.token_expires_in_seconds", defaultTokenTTL)
	configViper.SetDefault("linking.form_action", defaultFormAction)
	configViper.SetDefault("store.driver", StoreDriverSQLite)
	configViper.SetDefault("credentials.accept_direct_uid", true)

	configViper.SetDefault("identity.driver", IdentityDriverLocal)
	configViper.SetDefault("identity.firebase_endpoint", defaultFirebaseURL)
	configViper.SetDefault("identity.jwks_url", defaultJWKSURL)

	configViper.SetDefault("provider.scopes", []string{"profile"})

	configViper.SetDefault("smarthome.verify_ownership", true)
	configViper.SetDefault("smarthome.actuation_enabled", true)
	configViper.SetDefault("smarthome.unknown_lock_state", "JAMMED")
	configViper.SetDefault("smarthome.contact_sensor", false)
	configViper.SetDefault("smarthome.unlocked_detection", "NOT_DETECTED")
	configViper.SetDefault("smarthome.manufacturer_name", defaultManufacturer)

	configViper.SetDefault("ratelimit.auth_per_minute", 30)
	configViper.SetDefault("ratelimit.auth_burst", 10)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		HTTPTrustedProxies: configViper.GetStringSlice("http.trusted_proxies"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),

		LinkingMode:        normalizeChoice(configViper.GetString("linking.mode")),
		AccessTokenMode:    normalizeChoice(configViper.GetString("linking.access_token")),
		TokenExpiresIn:     time.Duration(configViper.GetInt("linking.token_expires_in_seconds")) * time.Second,
		ClientID:           strings.TrimSpace(configViper.GetString("linking.client_id")),
		ClientSecret:       configViper.GetString("linking.client_secret"),
		FormAction:         configViper.GetString("linking.form_action"),
		StoreDriver:        normalizeChoice(configViper.GetString("store.driver")),
		RedisAddress:       strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:      configViper.GetString("redis.password"),
		AcceptDirectUserID: configViper.GetBool("credentials.accept_direct_uid"),

		IdentityDriver:   normalizeChoice(configViper.GetString("identity.driver")),
		FirebaseAPIKey:   strings.TrimSpace(configViper.GetString("identity.firebase_api_key")),
		FirebaseEndpoint: strings.TrimSpace(configViper.GetString("identity.firebase_endpoint")),
		JWKSURL:          strings.TrimSpace(configViper.GetString("identity.jwks_url")),
		IDTokenAudience:  strings.TrimSpace(configViper.GetString("identity.audience")),
		IDTokenIssuers:   configViper.GetStringSlice("identity.issuers"),

		ProviderAuthURL:      strings.TrimSpace(configViper.GetString("provider.auth_url")),
		ProviderTokenURL:     strings.TrimSpace(configViper.GetString("provider.token_url")),
		ProviderClientID:     strings.TrimSpace(configViper.GetString("provider.client_id")),
		ProviderClientSecret: configViper.GetString("provider.client_secret"),
		ProviderScopes:       configViper.GetStringSlice("provider.scopes"),
		ProviderCallbackURL:  strings.TrimSpace(configViper.GetString("provider.callback_url")),

		VerifyOwnership:   configViper.GetBool("smarthome.verify_ownership"),
		ActuationEnabled:  configViper.GetBool("smarthome.actuation_enabled"),
		UnknownLockState:  strings.ToUpper(strings.TrimSpace(configViper.GetString("smarthome.unknown_lock_state"))),
		ContactSensor:     configViper.GetBool("smarthome.contact_sensor"),
		UnlockedDetection: strings.ToUpper(strings.TrimSpace(configViper.GetString("smarthome.unlocked_detection"))),
		ManufacturerName:  configViper.GetString("smarthome.manufacturer_name"),

		AuthRatePerMinute: configViper.GetInt("ratelimit.auth_per_minute"),
		AuthRateBurst:     configViper.GetInt("ratelimit.auth_burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ClientAuthEnforced reports whether /token requires HTTP Basic client credentials.
func (c AppConfig) ClientAuthEnforced() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.LinkingMode {
	case LinkingModeForm:
	case LinkingModeProvider:
		if c.ProviderAuthURL == "" || c.ProviderTokenURL == "" {
			return fmt.Errorf("provider.auth_url and provider.token_url are required in provider mode")
		}
		if c.ProviderClientID == "" {
			return fmt.Errorf("provider.client_id is required in provider mode")
		}
		if c.IDTokenAudience == "" {
			return fmt.Errorf("identity.audience is required in provider mode")
		}
	default:
		return fmt.Errorf("linking.mode %q is not supported", c.LinkingMode)
	}
	switch c.AccessTokenMode {
	case AccessTokenTokenMap:
	case AccessTokenUID:
		if !c.AcceptDirectUserID {
			return fmt.Errorf("linking.access_token=uid requires credentials.accept_direct_uid")
		}
	default:
		return fmt.Errorf("linking.access_token %q is not supported", c.AccessTokenMode)
	}
	if c.TokenExpiresIn <= 0 {
		return fmt.Errorf("linking.token_expires_in_seconds must be positive")
	}
	switch c.StoreDriver {
	case StoreDriverSQLite:
	case StoreDriverRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("redis.address is required for store.driver=redis")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.StoreDriver)
	}
	switch c.IdentityDriver {
	case IdentityDriverLocal:
	case IdentityDriverFirebase:
		if c.FirebaseAPIKey == "" {
			return fmt.Errorf("identity.firebase_api_key is required for identity.driver=firebase")
		}
	default:
		return fmt.Errorf("identity.driver %q is not supported", c.IdentityDriver)
	}
	if c.UnknownLockState != "JAMMED" && c.UnknownLockState != "UNLOCKED" {
		return fmt.Errorf("smarthome.unknown_lock_state must be JAMMED or UNLOCKED")
	}
	if c.UnlockedDetection != "DETECTED" && c.UnlockedDetection != "NOT_DETECTED" {
		return fmt.Errorf("smarthome.unlocked_detection must be DETECTED or NOT_DETECTED")
	}
	if c.AuthRatePerMinute <= 0 || c.AuthRateBurst <= 0 {
		return fmt.Errorf("ratelimit.auth_per_minute and ratelimit.auth_burst must be positive")
	}
	return nil
}

func normalizeChoice(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
