package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Speech  SpeechConfig  `mapstructure:"speech"`
	Widget  WidgetConfig  `mapstructure:"widget"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// BackendConfig locates the reasoning endpoint the widget dispatches to.
type BackendConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type SpeechConfig struct {
	STTKey        string  `mapstructure:"stt_key"`
	STTURL        string  `mapstructure:"stt_url"`
	DeepgramKey   string  `mapstructure:"deepgram_key"`
	DeepgramModel string  `mapstructure:"deepgram_model"`
	Locale        string  `mapstructure:"locale"`
	Rate          float64 `mapstructure:"rate"`
	Pitch         float64 `mapstructure:"pitch"`
	Volume        float64 `mapstructure:"volume"`
}

// WidgetConfig parameterizes per-widget behavior. The storefront deployments
// differ only in these knobs.
type WidgetConfig struct {
	AudioEnabledByDefault bool   `mapstructure:"audio_enabled_by_default"`
	ShowResultCards       bool   `mapstructure:"show_result_cards"`
	TruncateLength        int    `mapstructure:"truncate_length"`
	Greeting              string `mapstructure:"greeting"`
}

// Load reads an optional .env file, an optional config file, and the
// environment (SHOPASSIST_SERVER_ADDRESS and friends), in increasing
// precedence, and returns the resulting Config.
func Load(path string) (*Config, error) {
	// Missing .env is fine outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("server.address", ":8080")
	v.SetDefault("backend.url", "http://localhost:8000/api/v1/rag/chat")
	v.SetDefault("backend.timeout_seconds", 20)
	// Empty defaults so AutomaticEnv can see the keys.
	v.SetDefault("speech.stt_key", "")
	v.SetDefault("speech.stt_url", "")
	v.SetDefault("speech.deepgram_key", "")
	v.SetDefault("speech.deepgram_model", "aura-2-thalia-en")
	v.SetDefault("speech.locale", "en-US")
	v.SetDefault("speech.rate", 1.0)
	v.SetDefault("speech.pitch", 1.0)
	v.SetDefault("speech.volume", 1.0)
	v.SetDefault("widget.audio_enabled_by_default", false)
	v.SetDefault("widget.show_result_cards", true)
	v.SetDefault("widget.truncate_length", 220)
	v.SetDefault("widget.greeting", "Hi! I'm your shopping assistant. Ask me anything about our products.")

	v.SetEnvPrefix("shopassist")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
