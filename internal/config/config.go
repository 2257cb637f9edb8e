package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// AppName names the config directory, data directory and keychain service.
const AppName = "ankiexplainer"

// EnvPrefix starts every environment override.
const EnvPrefix = "EXPLAINER_"

type Config struct {
	Anki      AnkiConfig
	LLM       LLMConfig
	Proxy     ProxyConfig
	Embed     EmbedConfig
	Explainer ExplainerConfig
	Notify    NotifyConfig
	Storage   StorageConfig
	Server    ServerConfig
	Log       LogConfig
}

type AnkiConfig struct {
	URL string
	Key string
}

type LLMConfig struct {
	Model     string
	MaxTokens int
	Retries   int
	// Per-token dollar prices; zero means look the model up.
	InputPrice  float64
	OutputPrice float64
}

type ProxyConfig struct {
	OpenRouterAPIKey string
}

type EmbedConfig struct {
	OllamaURL string
	Model     string
}

type ExplainerConfig struct {
	Query     string
	Fields    string
	Dataset   string
	Formatter string
	NoteMode  bool
	Sync      bool
}

type NotifyConfig struct {
	NtfyURL        string
	TelegramToken  string
	TelegramChatID int
}

type StorageConfig struct {
	DataDir string
}

type ServerConfig struct {
	Port  int
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Anki: AnkiConfig{
			URL: "http://127.0.0.1:8765",
		},
		LLM: LLMConfig{
			Model:     "anthropic/claude-3.5-sonnet",
			MaxTokens: 3000,
			Retries:   5,
		},
		Embed: EmbedConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
		},
		Explainer: ExplainerConfig{
			Fields:   "Text,Back Extra",
			NoteMode: true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.kalambet.ankiexplainer)
// and secrets fall back to macOS Keychain.
// Elsewhere the backend is a JSON file at
// $XDG_CONFIG_HOME/ankiexplainer/config.json and secrets fall back to
// $XDG_DATA_HOME/ankiexplainer/secrets.json.
//
// A .env file in the working directory is loaded first. Environment
// variables (EXPLAINER_*) override backend values on all platforms.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

// loadDotEnv exports the variables in path without overriding ones already
// set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)
	return cfg, nil
}

// applySecrets fills secret keys still empty after env overrides from the
// platform keychain.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := kc.Get(AppName, secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// RequireAPIKey returns an error naming every place the OpenRouter key can
// come from when it is missing.
func (c Config) RequireAPIKey() error {
	if c.Proxy.OpenRouterAPIKey != "" {
		return nil
	}
	return fmt.Errorf("missing required config: OpenRouter API key. "+
		"Set it via environment variable %s%s", envName(keyOpenRouter), apiKeyHint())
}

// secretAccount maps a dotted key to its keychain account name.
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
