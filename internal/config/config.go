package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	ServiceName string
	Env         string

	// Daraja credentials and endpoints.
	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortcode      string
	MpesaPasskey        string
	MpesaCallbackURL    string

	// Poll cadence for push-payment status checks.
	PollInitialDelay time.Duration
	PollInterval     time.Duration
	PollMaxChecks    int

	// Phone normalization.
	PhoneCountryCode string

	// Bearer token gating operator reconciliation routes.
	OperatorToken string
}

// Load reads configuration from the environment with defaults.
// Precedence: explicit env var > .env file (loaded by main) > default.
func Load() Config {
	return Config{
		Port:        getEnv("PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "dukapesa"),
		Env:         getEnv("ENV", "dev"),

		MpesaBaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		MpesaConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
		MpesaConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
		MpesaShortcode:      getEnv("MPESA_SHORTCODE", "174379"),
		MpesaPasskey:        getEnv("MPESA_PASSKEY", ""),
		MpesaCallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),

		PollInitialDelay: getDuration("POLL_INITIAL_DELAY", 5*time.Second),
		PollInterval:     getDuration("POLL_INTERVAL", 10*time.Second),
		PollMaxChecks:    getInt("POLL_MAX_CHECKS", 30),

		PhoneCountryCode: getEnv("PHONE_COUNTRY_CODE", "254"),

		OperatorToken: getEnv("OPERATOR_TOKEN", ""),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("config: invalid integer for %s: %s", key, v)
			return def
		}
		return n
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("config: invalid duration for %s: %s", key, v)
			return def
		}
		return d
	}
	return def
}
