package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Wallet struct {
	DataDir   string
	NotaryURL string
	ServerID  string
	NymID     string // default nym for commands that act on one
	LogFile   string
	// RequestTimeout bounds each notary round trip.
	RequestTimeout time.Duration
}

// P2P is optional. With an empty ListenAddr instruments go through the
// notary's payments inbox only.
type P2P struct {
	ListenAddr string
	Bootstrap  []string
}

type Notary struct {
	APIAddr        string
	DBPath         string
	ServerID       string
	AllowedOrigins []string
	PlanInterval   time.Duration
}

type Config struct {
	Wallet Wallet
	P2P    P2P
	Notary Notary
}

func Default() Config {
	return Config{
		Wallet: Wallet{
			DataDir:        "./data/wallet",
			NotaryURL:      "http://localhost:8080",
			ServerID:       "notary-1",
			RequestTimeout: 10 * time.Second,
		},
		Notary: Notary{
			APIAddr:        ":8080",
			DBPath:         "./data/notary",
			ServerID:       "notary-1",
			AllowedOrigins: []string{"*"},
			PlanInterval:   time.Minute,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Wallet.DataDir = getEnv("OTX_DATA_DIR", cfg.Wallet.DataDir)
	cfg.Wallet.NotaryURL = getEnv("OTX_NOTARY_URL", cfg.Wallet.NotaryURL)
	cfg.Wallet.ServerID = getEnv("OTX_SERVER_ID", cfg.Wallet.ServerID)
	cfg.Wallet.NymID = getEnv("OTX_NYM_ID", cfg.Wallet.NymID)
	cfg.Wallet.LogFile = getEnv("OTX_LOG_FILE", cfg.Wallet.LogFile)
	cfg.Wallet.RequestTimeout = getMillis("OTX_REQUEST_TIMEOUT_MS", cfg.Wallet.RequestTimeout)

	cfg.P2P.ListenAddr = getEnv("OTX_P2P_LISTEN", cfg.P2P.ListenAddr)
	if bs := os.Getenv("OTX_P2P_BOOTSTRAP"); bs != "" {
		cfg.P2P.Bootstrap = splitList(bs)
	}

	cfg.Notary.APIAddr = getEnv("NOTARY_API_ADDR", cfg.Notary.APIAddr)
	cfg.Notary.DBPath = getEnv("NOTARY_DB_PATH", cfg.Notary.DBPath)
	cfg.Notary.ServerID = getEnv("NOTARY_SERVER_ID", cfg.Notary.ServerID)
	cfg.Notary.PlanInterval = getMillis("NOTARY_PLAN_INTERVAL_MS", cfg.Notary.PlanInterval)
	if origins := os.Getenv("NOTARY_ALLOWED_ORIGINS"); origins != "" {
		cfg.Notary.AllowedOrigins = splitList(origins)
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getMillis(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
