package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Engine struct {
	// DataDir holds the pebble database with persisted orders and balances.
	DataDir string
	LogFile string

	// OutQueueCapacity bounds the outgoing event queue. The committer never
	// blocks on it; oldest events are dropped on overflow.
	OutQueueCapacity int

	// PriceDeviationThreshold rejects market orders whose execution price
	// deviates from the best book price by more than this fraction.
	// Zero disables the check.
	PriceDeviationThreshold decimal.Decimal

	// TrustedClients hold no reserved balances and are suppressed from the
	// public execution feed unless their orders were partially matched.
	TrustedClients []string
}

type Config struct {
	Engine Engine
}

func Default() Config {
	return Config{
		Engine: Engine{
			DataDir:          "data/engine",
			LogFile:          "data/engine.log",
			OutQueueCapacity: 4096,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("ME_DATA_DIR"); v != "" {
		cfg.Engine.DataDir = v
	}
	if v := os.Getenv("ME_LOG_FILE"); v != "" {
		cfg.Engine.LogFile = v
	}
	if v := os.Getenv("ME_OUT_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.OutQueueCapacity = n
		}
	}
	if v := os.Getenv("ME_PRICE_DEVIATION_THRESHOLD"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.Sign() > 0 {
			cfg.Engine.PriceDeviationThreshold = d
		}
	}
	if v := os.Getenv("ME_TRUSTED_CLIENTS"); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.Engine.TrustedClients = append(cfg.Engine.TrustedClients, c)
			}
		}
	}
	return cfg
}
