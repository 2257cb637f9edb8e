package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

const keyOpenRouter = "proxy.openrouter_api_key"

var specs = []keySpec{
	{
		key: "anki.url", typ: kString, env: "EXPLAINER_ANKI_URL",
		apply:   func(cfg *Config, v any) { cfg.Anki.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Anki.URL },
	},
	{
		key: "anki.key", typ: kString, env: "EXPLAINER_ANKI_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Anki.Key = v.(string) },
		extract: func(cfg Config) any { return cfg.Anki.Key },
	},
	{
		key: "llm.model", typ: kString, env: "EXPLAINER_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "EXPLAINER_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "llm.retries", typ: kInt, env: "EXPLAINER_LLM_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.LLM.Retries = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.Retries },
	},
	{
		key: "llm.input_price", typ: kFloat, env: "EXPLAINER_LLM_INPUT_PRICE",
		apply:   func(cfg *Config, v any) { cfg.LLM.InputPrice = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.InputPrice },
	},
	{
		key: "llm.output_price", typ: kFloat, env: "EXPLAINER_LLM_OUTPUT_PRICE",
		apply:   func(cfg *Config, v any) { cfg.LLM.OutputPrice = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.OutputPrice },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "EXPLAINER_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "embed.ollama_url", typ: kString, env: "EXPLAINER_EMBED_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Embed.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.OllamaURL },
	},
	{
		key: "embed.model", typ: kString, env: "EXPLAINER_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embed.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Model },
	},
	{
		key: "explainer.query", typ: kString, env: "EXPLAINER_QUERY",
		apply:   func(cfg *Config, v any) { cfg.Explainer.Query = v.(string) },
		extract: func(cfg Config) any { return cfg.Explainer.Query },
	},
	{
		key: "explainer.fields", typ: kString, env: "EXPLAINER_FIELDS",
		apply:   func(cfg *Config, v any) { cfg.Explainer.Fields = v.(string) },
		extract: func(cfg Config) any { return cfg.Explainer.Fields },
	},
	{
		key: "explainer.dataset", typ: kString, env: "EXPLAINER_DATASET",
		apply:   func(cfg *Config, v any) { cfg.Explainer.Dataset = v.(string) },
		extract: func(cfg Config) any { return cfg.Explainer.Dataset },
	},
	{
		key: "explainer.formatter", typ: kString, env: "EXPLAINER_FORMATTER",
		apply:   func(cfg *Config, v any) { cfg.Explainer.Formatter = v.(string) },
		extract: func(cfg Config) any { return cfg.Explainer.Formatter },
	},
	{
		key: "explainer.note_mode", typ: kBool, env: "EXPLAINER_NOTE_MODE",
		apply:   func(cfg *Config, v any) { cfg.Explainer.NoteMode = v.(bool) },
		extract: func(cfg Config) any { return cfg.Explainer.NoteMode },
	},
	{
		key: "explainer.sync", typ: kBool, env: "EXPLAINER_SYNC",
		apply:   func(cfg *Config, v any) { cfg.Explainer.Sync = v.(bool) },
		extract: func(cfg Config) any { return cfg.Explainer.Sync },
	},
	{
		key: "notify.ntfy_url", typ: kString, env: "EXPLAINER_NTFY_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.NtfyURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.NtfyURL },
	},
	{
		key: "notify.telegram_token", typ: kString, env: "EXPLAINER_TELEGRAM_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Notify.TelegramToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.TelegramToken },
	},
	{
		key: "notify.telegram_chat_id", typ: kInt, env: "EXPLAINER_TELEGRAM_CHAT_ID",
		apply:   func(cfg *Config, v any) { cfg.Notify.TelegramChatID = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.TelegramChatID },
	},
	{
		key: "storage.data_dir", typ: kString, env: "EXPLAINER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "server.port", typ: kInt, env: "EXPLAINER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "EXPLAINER_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "EXPLAINER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// envName returns the environment variable that overrides key.
func envName(key string) string {
	for _, s := range specs {
		if s.key == key {
			return s.env
		}
	}
	return ""
}

// parse converts raw into the Go type apply expects for s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

// applyBackend copies stored values into cfg. Secrets are never read from
// the backend. A stored value that does not parse is an error, since
// SetKey validates everything it writes.
func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return fmt.Errorf("config key %s=%q: %w", s.key, raw, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets EXPLAINER_* variables win over stored values. A
// variable that does not parse is reported and ignored.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
