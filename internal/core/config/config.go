package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/viper"
)

// AppConfig holds the configuration for the application.
// Tags used:
// - mapstructure: used by viper to unmarshal
// - default: default value to set if missing
// - required: if "true", error if missing
type AppConfig struct {
	// Environment specifies the runtime environment (e.g., development, production).
	Environment string `mapstructure:"APP_ENV" default:"development"`
	// LogLevel defines the logging verbosity (e.g., debug, info, error).
	LogLevel string `mapstructure:"LOG_LEVEL" default:"info"`
	// GatewayPort is the port where the local gateway listens.
	GatewayPort int `mapstructure:"GATEWAY_PORT" default:"8080"`

	// Backend holds the Remote Order Store connection settings.
	Backend BackendConfig `mapstructure:",squash"`

	// Session holds the persisted-session storage settings.
	Session SessionConfig `mapstructure:",squash"`

	// Orders holds the order lifecycle tuning knobs.
	Orders OrdersConfig `mapstructure:",squash"`
}

// BackendConfig holds the connection details for the Remote Order Store.
type BackendConfig struct {
	// URL is the base URL of the backend API.
	URL string `mapstructure:"API_URL" required:"true"`
	// RequestTimeoutSeconds bounds every backend call.
	RequestTimeoutSeconds int `mapstructure:"API_TIMEOUT_SECONDS" default:"10"`
	// MaxRetries is the transport-level retry budget for failed requests.
	MaxRetries int `mapstructure:"API_MAX_RETRIES" default:"2"`
}

// SessionConfig holds the storage settings for the agent session.
type SessionConfig struct {
	// RedisURL is the connection URL of the session store.
	RedisURL string `mapstructure:"REDIS_URL" default:"redis://localhost:6379"`
}

// OrdersConfig holds the lifecycle manager tuning knobs.
type OrdersConfig struct {
	// StalenessSeconds is how old a cached partition may get before a
	// background refresh is triggered.
	StalenessSeconds int `mapstructure:"ORDERS_STALENESS_SECONDS" default:"30"`
	// RemoveDelayMs is how long a delivered order stays visible in the
	// Mine partition before it is dropped.
	RemoveDelayMs int `mapstructure:"ORDERS_REMOVE_DELAY_MS" default:"1500"`
}

// Load loads configuration from .env files and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig

	if err := processTags(v, &config); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validateRequired(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// processTags iterates over the struct fields and sets default values in Viper.
func processTags(v *viper.Viper, config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := processTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		key := field.Tag.Get("mapstructure")
		defaultValue := field.Tag.Get("default")

		if key != "" {
			v.BindEnv(key)
		}

		if key != "" && defaultValue != "" {
			v.SetDefault(key, defaultValue)
		}
	}
	return nil
}

// validateRequired checks if fields marked as required have non-zero values.
func validateRequired(config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		required := field.Tag.Get("required")
		if required == "true" {
			value := val.Field(i)
			if isZero(value) {
				key := field.Tag.Get("mapstructure")
				return fmt.Errorf("missing required configuration: %s", key)
			}
		}
	}
	return nil
}

// isZero checks if a reflect.Value is the zero value for its type.
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}
