package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boweazy/smartflow/internal/log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	DataFile         string
	ListenAddr       string
	MetricsAddr      string
	Plan             string
	PollInterval     time.Duration
	SendTimeout      time.Duration
	ReminderLead     time.Duration
	MaxSendAttempts  int
	RetryBackoff     time.Duration
	BackupRetention  time.Duration
	EmailEnabled     bool
	SMSEnabled       bool
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPass         string
	SMTPFrom         string
	VonageAPIKey     string
	VonageAPISecret  string
	VonageNumber     string
	JWTSecret        string
	FeaturesByPlan   map[string][]string
}

// Plan feature matrix. Plans gate HTTP surface, never the poller.
var defaultFeatures = map[string][]string{
	"starter":    {"booking", "basic_ai_bot", "one_template"},
	"flowkit":    {"booking", "ai_scheduler", "sms", "portal", "two_templates", "reports"},
	"launchpack": {"booking", "ai_scheduler", "sms", "portal", "reports", "analytics", "recovery", "automations", "ai_concierge", "three_templates", "priority_support"},
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional if variables are set elsewhere
		logger := log.NewLogger()
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	logger := log.NewLogger()
	cfg := &Config{
		DataFile:        os.Getenv("DATA_FILE"),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		Plan:            os.Getenv("PLAN"),
		PollInterval:    5 * time.Second,
		SendTimeout:     10 * time.Second,
		ReminderLead:    24 * time.Hour,
		MaxSendAttempts: 5,
		RetryBackoff:    1 * time.Second,
		BackupRetention: 72 * time.Hour,
		SMTPHost:        os.Getenv("SMTP_HOST"),
		SMTPPort:        587,
		SMTPUser:        os.Getenv("SMTP_USER"),
		SMTPPass:        os.Getenv("SMTP_PASS"),
		SMTPFrom:        os.Getenv("SMTP_FROM"),
		VonageAPIKey:    os.Getenv("VONAGE_API_KEY"),
		VonageAPISecret: os.Getenv("VONAGE_API_SECRET"),
		VonageNumber:    os.Getenv("VONAGE_NUMBER"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		FeaturesByPlan:  defaultFeatures,
	}

	if cfg.DataFile == "" {
		logger.Error("DATA_FILE is required")
		return nil, fmt.Errorf("DATA_FILE is required")
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":2112"
	}
	if cfg.Plan == "" {
		cfg.Plan = "starter"
		logger.Info("Using default plan", zap.String("plan", cfg.Plan))
	}
	if _, ok := cfg.FeaturesByPlan[cfg.Plan]; !ok {
		logger.Error("Unknown plan", zap.String("plan", cfg.Plan))
		return nil, fmt.Errorf("unknown plan: %s", cfg.Plan)
	}
	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = "no-reply@smartflowsystems.com"
	}

	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			logger.Error("Invalid SMTP_PORT", zap.Error(err))
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.SMTPPort = port
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("Invalid POLL_INTERVAL", zap.Error(err))
			return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("SEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("Invalid SEND_TIMEOUT", zap.Error(err))
			return nil, fmt.Errorf("invalid SEND_TIMEOUT: %w", err)
		}
		cfg.SendTimeout = d
	}
	if v := os.Getenv("REMINDER_LEAD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("Invalid REMINDER_LEAD", zap.Error(err))
			return nil, fmt.Errorf("invalid REMINDER_LEAD: %w", err)
		}
		cfg.ReminderLead = d
	}
	if v := os.Getenv("MAX_SEND_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Error("Invalid MAX_SEND_ATTEMPTS", zap.String("value", v))
			return nil, fmt.Errorf("invalid MAX_SEND_ATTEMPTS: %s", v)
		}
		cfg.MaxSendAttempts = n
	}

	cfg.EmailEnabled = parseBool(os.Getenv("EMAIL_ENABLED"))
	cfg.SMSEnabled = parseBool(os.Getenv("SMS_ENABLED"))
	if cfg.EmailEnabled && (cfg.SMTPHost == "" || cfg.SMTPUser == "") {
		logger.Error("EMAIL_ENABLED requires SMTP_HOST and SMTP_USER")
		return nil, fmt.Errorf("EMAIL_ENABLED requires SMTP_HOST and SMTP_USER")
	}
	if cfg.SMSEnabled && (cfg.VonageAPIKey == "" || cfg.VonageAPISecret == "" || cfg.VonageNumber == "") {
		logger.Error("SMS_ENABLED requires Vonage credentials")
		return nil, fmt.Errorf("SMS_ENABLED requires VONAGE_API_KEY, VONAGE_API_SECRET and VONAGE_NUMBER")
	}

	logger.Info("Config loaded successfully")
	return cfg, nil
}

// HasFeature reports whether the configured plan includes a feature.
func (c *Config) HasFeature(name string) bool {
	for _, f := range c.FeaturesByPlan[c.Plan] {
		if f == name {
			return true
		}
	}
	return false
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	}
	return false
}
