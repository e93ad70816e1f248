package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Port        string
	DBDSN       string
	CORSOrigins []string
	MaxAttempts int
}

type WorkerConfig struct {
	DBDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPass     string
	SMTPInsecure bool

	Concurrency    int
	PollInterval   time.Duration
	JobLease       time.Duration
	SendTimeout    time.Duration
	RetryBaseDelay time.Duration

	MetricsPort string

	RMQURL      string
	EventsQueue string
}

var (
	API    APIConfig
	Worker WorkerConfig
)

// loadDotEnv reads a .env file when present. A missing file is not an error.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("required env %s is not set", k)
	}
	return v
}

func getInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("env %s: invalid integer %q", k, v)
	}
	return n
}

func getBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("env %s: invalid bool %q", k, v)
	}
	return b
}

func getDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("env %s: invalid duration %q", k, v)
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func MustLoadAPI() {
	loadDotEnv()
	API = APIConfig{
		Port:        getenv("PORT", "8080"),
		DBDSN:       mustEnv("DB_DSN"),
		CORSOrigins: splitList(getenv("CORS_ORIGINS", "http://localhost:3000")),
		MaxAttempts: getInt("JOB_MAX_ATTEMPTS", 3),
	}
}

func MustLoadWorker() {
	loadDotEnv()
	Worker = WorkerConfig{
		DBDSN: mustEnv("DB_DSN"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		SMTPHost:     mustEnv("SMTP_HOST"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPass:     os.Getenv("SMTP_PASS"),
		SMTPInsecure: getBool("SMTP_INSECURE", false),

		Concurrency:    getInt("WORKER_CONCURRENCY", 5),
		PollInterval:   getDuration("POLL_INTERVAL", time.Second),
		JobLease:       getDuration("JOB_LEASE", 5*time.Minute),
		SendTimeout:    getDuration("SEND_TIMEOUT", 30*time.Second),
		RetryBaseDelay: getDuration("RETRY_BASE_DELAY", time.Second),

		MetricsPort: getenv("METRICS_PORT", "9100"),

		RMQURL:      os.Getenv("RMQ_URL"),
		EventsQueue: getenv("EVENTS_QUEUE", "email_events"),
	}
}
