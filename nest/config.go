package nest

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/cmsnest/nest/internal/config"
	"github.com/hazyhaar/cmsnest/nest/internal/sink"
)

// Config is the top-level cmsnest configuration. Re-exported from internal.
type Config = config.Config

// FetchConfig controls item fetches.
type FetchConfig = config.FetchConfig

// ServerConfig controls the HTTP composition service.
type ServerConfig = config.ServerConfig

// BrowserConfig controls the headless Chrome loader.
type BrowserConfig = config.BrowserConfig

// StoreConfig locates the report store.
type StoreConfig = config.StoreConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// NewFromConfig builds a Nester from cfg. The configured sinks are created
// here; extra options are applied after them.
func NewFromConfig(cfg *Config, logger *slog.Logger, opts ...Option) (*Nester, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	sinks, err := buildSinks(cfg.Sinks, logger)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(logger),
		WithTimeout(cfg.Fetch.Timeout),
		WithUserAgent(cfg.Fetch.UserAgent),
		WithMaxBytes(cfg.Fetch.MaxBytes),
		WithSanitize(cfg.Sanitize),
		WithBlockPrivate(cfg.Server.BlockPrivate),
		WithSinks(sinks...),
	}
	return New(append(base, opts...)...), nil
}

func buildSinks(cfgs []SinkConfig, logger *slog.Logger) ([]sink.Sink, error) {
	var out []sink.Sink
	for i, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			out = append(out, sink.NewStdout(os.Stdout))
		case "webhook":
			out = append(out, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookLogger(logger)))
		default:
			return nil, fmt.Errorf("nest: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
