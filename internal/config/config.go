package config

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Reader  ReaderConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

// ReaderConfig tunes the anchoring behavior advertised to reader clients.
type ReaderConfig struct {
	ContextRadius int // characters captured on each side of a selection
	DebounceMs    int // suggested delay before re-resolving after a render event
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4800,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Reader: ReaderConfig{
			ContextRadius: 30,
			DebounceMs:    250,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "margo-data"
		}
	}
	return filepath.Join(dir, "margo")
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/margo/config.json, then applies MARGO_* environment
// overrides. The API token is generated on first load and persisted to the
// backend, so a fresh installation works without any configuration.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		token, err := ensureAPIToken(b)
		if err != nil {
			return Config{}, err
		}
		cfg.Server.APIToken = token
	}

	return cfg, nil
}

// ensureAPIToken returns the persisted bearer token, generating and storing
// one on first use.
func ensureAPIToken(b ConfigBackend) (string, error) {
	if token, ok, err := b.GetString("server.api_token"); err != nil {
		return "", err
	} else if ok && token != "" {
		return token, nil
	}

	token := uuid.New().String()
	if err := b.SetString("server.api_token", token); err != nil {
		return "", err
	}
	return token, nil
}
