package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every option the process needs before serving chat traffic.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	LLM       LLMConfig       `koanf:"llm"`
	Chat      ChatConfig      `koanf:"chat"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Cache   CacheConfig   `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig shapes both response-cache tiers. The local tier is always on;
// the valkey tier activates only when an address is configured.
type CacheConfig struct {
	MaxSize  int          `koanf:"maxSize"`
	TTLHours float64      `koanf:"ttlHours"`
	Valkey   ValkeyConfig `koanf:"valkey"`
}

// ValkeyConfig describes the optional distributed second tier.
type ValkeyConfig struct {
	Address     string          `koanf:"address"`
	Username    string          `koanf:"username"`
	Password    string          `koanf:"password"`
	DB          int             `koanf:"db"`
	TTLHours    float64         `koanf:"ttlHours"`
	Compression bool            `koanf:"compression"`
	TLS         ValkeyTLSConfig `koanf:"tls"`
}

type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// RetrievalConfig points at the policy-passage store and bounds its searches.
type RetrievalConfig struct {
	PostgresDSN    string  `koanf:"postgresDsn"`
	TopK           int     `koanf:"topK"`
	ScoreThreshold float64 `koanf:"scoreThreshold"`
}

// LLMConfig carries the OpenAI-compatible endpoint used for generation and
// query embedding.
type LLMConfig struct {
	APIKey         string  `koanf:"apiKey"`
	BaseURL        string  `koanf:"baseUrl"`
	Model          string  `koanf:"model"`
	EmbeddingModel string  `koanf:"embeddingModel"`
	Temperature    float32 `koanf:"temperature"`
}

/// ChatConfig owns the answer-shaping options: the prompt template, the canned
// fallback message, and the two phrase lists the classifier scans for.
type ChatConfig struct {
	PromptsFolder   string `koanf:"promptsFolder"`
	PromptFile      string `koanf:"promptFile"`
	FallbackMessage string `koanf:"fallbackMessage"`

	// PhrasesFile optionally overrides the inline phrase lists with a
	// yaml/json/toml document that is hot-reloaded on change.
	PhrasesFile         string   `koanf:"phrasesFile"`
	FallbackPhrases     []string `koanf:"fallbackPhrases"`
	FallbackLikePhrases []string `koanf:"fallbackLikePhrases"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic. Contract errors here are programming/deployment mistakes
// and fail fast rather than being degraded around.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.MaxSize <= 0 {
		return fmt.Errorf("config: server.cache.maxSize invalid: %d", c.Server.Cache.MaxSize)
	}
	if c.Server.Cache.TTLHours <= 0 {
		return fmt.Errorf("config: server.cache.ttlHours invalid: %v", c.Server.Cache.TTLHours)
	}
	if c.Server.Cache.Valkey.TTLHours < 0 {
		return fmt.Errorf("config: server.cache.valkey.ttlHours invalid: %v", c.Server.Cache.Valkey.TTLHours)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval.topK invalid: %d", c.Retrieval.TopK)
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("config: retrieval.scoreThreshold outside [0,1]: %v", c.Retrieval.ScoreThreshold)
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("config: llm.model required")
	}
	if strings.TrimSpace(c.Chat.FallbackMessage) == "" {
		return errors.New("config: chat.fallbackMessage required")
	}
	return nil
}

// DefaultConfig returns the baseline values the original deployment runs with.
// The phrase lists default to the Korean indicators the hotel policy bot was
// tuned against; deployments in other languages override them wholesale.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				MaxSize:  100,
				TTLHours: 1,
				Valkey: ValkeyConfig{
					TTLHours:    24,
					Compression: true,
				},
			},
		},
		Retrieval: RetrievalConfig{
			TopK:           3,
			ScoreThreshold: 0.7,
		},
		LLM: LLMConfig{
			Model:          "gpt-3.5-turbo",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.7,
		},
		Chat: ChatConfig{
			PromptsFolder:   "./prompts",
			PromptFile:      "prompt_hotel_policy.txt",
			FallbackMessage: "죄송합니다. 해당 내용에 대해선 지금 바로 정확한 안내가 어려워,\n👉 02-1234-5678번으로 연락 주시면 더 빠르게 도와드릴 수 있습니다.",
			FallbackPhrases: []string{
				"정확한 안내가 어렵습니다",
				"문서에서 찾을 수 없습니다",
				"확인할 수 없습니다",
				"알 수 없습니다",
				"제공할 수 없습니다",
				"02-1234-5678번으로 연락 주시면",
			},
			FallbackLikePhrases: []string{
				"정확한 안내가 어렵습니다",
				"자세한 정보는 없습니다",
				"명확하지 않습니다",
				"해당 정보는 제공되지 않습니다",
				"명시되어 있지 않습니다",
				"문서에서 확인할 수 없습니다",
				"문서에 해당 정보가 없습니다",
				"정책에 명시된 내용이 없습니다",
				"시간이 정확히 명시되어 있지 않습니다",
				"문서에 명확한 시간 정보가 없습니다",
				"정확한 시간을 확인할 수 없습니다",
			},
		},
	}
}
