package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Store selects the persistence backend: "postgres" or "memory".
	Store string

	BotToken    string
	AdminChatID int64

	PaymentProvider   string
	YookassaShopID    string
	YookassaKey       string
	YookassaReturnURL string
	AllowedYooIp      []string
	StripeSecretKey   string
	ChargesPerSecond  float64
	DefaultCurrency   string
	FulfillmentURL    string
	FulfillmentAPIKey string

	HTTPAddr          string
	AdminAllowedCIDRs []string
	LogLevel          string

	CancellationThreshold     int
	StructuralEscalationAfter int
	CheckInterval             time.Duration
	ClaimTTL                  time.Duration
	ChargeTimeout             time.Duration
	ReminderLeadTime          time.Duration
	WorkerPoolSize            int
	WorkerQueueSize           int
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "recurring_orders"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		Store: getEnv("STORE", "postgres"),

		BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminChatID: getEnvInt64("TELEGRAM_ADMIN_CHAT_ID", 0),

		PaymentProvider:   getEnv("PAYMENT_PROVIDER", "yookassa"),
		YookassaShopID:    getEnv("YOOKASSA_SHOP_ID", ""),
		YookassaKey:       getEnv("YOOKASSA_SECRET_KEY", ""),
		YookassaReturnURL: getEnv("YOOKASSA_RETURN_URL", ""),
		AllowedYooIp: []string{
			"185.71.76.0/27",
			"185.71.77.0/27",
			"77.75.153.0/25",
			"77.75.156.224/28",
			"77.75.154.128/25",
			"2a02:5180::/32",
		},
		StripeSecretKey:   getEnv("STRIPE_SECRET_KEY", ""),
		ChargesPerSecond:  getEnvFloat("CHARGES_PER_SECOND", 5),
		DefaultCurrency:   getEnv("DEFAULT_CURRENCY", "RUB"),
		FulfillmentURL:    getEnv("FULFILLMENT_API_URL", ""),
		FulfillmentAPIKey: getEnv("FULFILLMENT_API_KEY", ""),

		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		AdminAllowedCIDRs: getEnvList("ADMIN_ALLOWED_CIDRS", []string{"127.0.0.1/32", "::1/128"}),
		LogLevel:          getEnv("LOG_LEVEL", "info"),

		CancellationThreshold:     getEnvInt("CANCELLATION_THRESHOLD", 6),
		StructuralEscalationAfter: getEnvInt("STRUCTURAL_ESCALATION_AFTER", 3),
		CheckInterval:             getEnvDuration("CHECK_INTERVAL", time.Minute),
		ClaimTTL:                  getEnvDuration("CLAIM_TTL", 15*time.Minute),
		ChargeTimeout:             getEnvDuration("CHARGE_TIMEOUT", 30*time.Second),
		ReminderLeadTime:          getEnvDuration("REMINDER_LEAD_TIME", 24*time.Hour),
		WorkerPoolSize:            getEnvInt("WORKER_POOL_SIZE", 4),
		WorkerQueueSize:           getEnvInt("WORKER_QUEUE_SIZE", 100),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid %s=%q, using %d", key, value, fallback)
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		log.Printf("Invalid %s=%q, using %d", key, value, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Invalid %s=%q, using %g", key, value, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid %s=%q, using %s", key, value, fallback)
	}
	return fallback
}

// getEnvList reads a comma separated list.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
