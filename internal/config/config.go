package config // package config loads application configuration from environment variables

import (
	"log" // log is used to report configuration errors and halt execution
	"os"  // os provides access to environment variables
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints and durations
// for limits and timeouts.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to validate JWTs issued by the identity service

	GatewayWebhookSecret string // secret for webhook HMAC verification
	GatewayVerifySecret  string // secret for client payment-signature verification

	Currency          string        // ISO currency code for payment orders
	HoldTTL           time.Duration // how long a slot reservation lock holds capacity
	ReserveAttempts   int           // optimistic-retry budget for capacity updates
	SweepInterval     time.Duration // how often the background sweeper runs
	StalePendingAfter time.Duration // age after which unpaid bookings are expired
	DedupTTL          time.Duration // retention of processed gateway event ids

	PromoServiceURL string // promo service base URL (empty disables discounts)
	RefundTiers     string // refund tier table, e.g. "24:100:FULL,0:50:PARTIAL"
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),      // environment (dev/test/prod)
		Port:      must("APP_PORT"),     // port to bind the HTTP server
		DBUser:    must("DB_USER"),      // database user
		DBPass:    os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost:    must("DB_HOST"),      // database host
		DBPort:    must("DB_PORT"),      // database port
		DBName:    must("DB_NAME"),      // database name
		JWTSecret: must("JWT_SECRET"),   // secret used to validate JWTs

		GatewayWebhookSecret: must("PAYMENT_WEBHOOK_SECRET"),
		GatewayVerifySecret:  must("PAYMENT_GATEWAY_SECRET"),

		Currency:          envStr("BOOKING_CURRENCY", "INR"),
		HoldTTL:           time.Duration(envInt("SLOT_HOLD_TTL_MIN", 10)) * time.Minute,
		ReserveAttempts:   envInt("RESERVE_MAX_ATTEMPTS", 5),
		SweepInterval:     envDur("SWEEP_INTERVAL", time.Minute),
		StalePendingAfter: time.Duration(envInt("STALE_PENDING_AFTER_MIN", 30)) * time.Minute,
		DedupTTL:          envDur("GATEWAY_EVENT_DEDUP_TTL", 72*time.Hour),

		PromoServiceURL: os.Getenv("PROMO_SERVICE_URL"), // optional
		RefundTiers:     os.Getenv("REFUND_TIERS"),      // optional, defaults apply
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
