package env

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Region    string `env:"NEARWIRE_REGION"`
	DebugHTTP bool   `env:"NEARWIRE_DEBUG_HTTP"`
	LogLevel  string `env:"NEARWIRE_LOG_LEVEL,default=info"`

	// BufferSize is the chunk size used by every encoder and decoder.
	BufferSize int `env:"NEARWIRE_BUFFER_SIZE,default=8192"`

	// MaxArrayLen bounds decoded byte arrays and lists.
	MaxArrayLen int `env:"NEARWIRE_MAX_ARRAY_LEN,default=67108864"`

	// Marshaller is cbor or msgpack.
	Marshaller string `env:"NEARWIRE_MARSHALLER,default=cbor"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Failed to load .env.local: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	if config.BufferSize < 1 {
		return nil, fmt.Errorf("NEARWIRE_BUFFER_SIZE must be positive, got %d", config.BufferSize)
	}

	return &config, nil
}
