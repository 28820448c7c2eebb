package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "MESH"

// Config is shared by the relay server and the headless peer.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	ICE       ICEConfig       `mapstructure:"ice"`
	Signaling SignalingConfig `mapstructure:"signaling"`
	Media     MediaConfig     `mapstructure:"media"`

	Room          string `mapstructure:"room"`
	ParticipantID string `mapstructure:"participant_id"`
	DisplayName   string `mapstructure:"display_name"`
	// NegotiationTimeout bounds how long a peer may take to connect.
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
}

type RateLimitConfig struct {
	// Frames is the number of frames allowed per Interval; 0 disables.
	Frames   int           `mapstructure:"frames"`
	Interval time.Duration `mapstructure:"interval"`
}

type ICEConfig struct {
	Servers    []string `mapstructure:"servers"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
	ForceRelay bool     `mapstructure:"force_relay"`
}

type SignalingConfig struct {
	// Backend is ws or redis.
	Backend string      `mapstructure:"backend"`
	URL     string      `mapstructure:"url"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MediaConfig struct {
	AudioFile string `mapstructure:"audio_file"`
	VideoFile string `mapstructure:"video_file"`
	Audio     bool   `mapstructure:"audio"`
	Video     bool   `mapstructure:"video"`
}

// New returns a viper instance with defaults and MESH_ env overrides.
// Callers may bind flags into it before calling Load.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "change-me")
	v.SetDefault("rate_limit.frames", 200)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("ice.servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.force_relay", false)
	v.SetDefault("signaling.backend", "ws")
	v.SetDefault("signaling.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("signaling.redis.addr", "localhost:6379")
	v.SetDefault("signaling.redis.db", 0)
	v.SetDefault("media.audio", true)
	v.SetDefault("media.video", true)
	v.SetDefault("negotiation_timeout", "30s")
	return v
}

func Load() (*Config, error) {
	return LoadFrom(New())
}

// LoadFrom reads config/config.<CONFIG_ENV>.yaml into v and decodes it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ICE.Servers = splitList(cfg.ICE.Servers)
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("backend", cfg.Signaling.Backend).Msg("config ready")
	return &cfg, nil
}

// splitList accepts both YAML lists and a single comma separated value
// as it arrives from MESH_ICE_SERVERS.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
