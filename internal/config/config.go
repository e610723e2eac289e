// Package config loads sharesync settings from defaults, an optional YAML file,
// a .env file and SHARESYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SHARESYNC"

// DefaultMaxFileSize is the largest file a receiver accepts unless configured.
const DefaultMaxFileSize = 2 << 30

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

type Config struct {
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Store    StoreConfig    `mapstructure:"store"`
	Signal   SignalConfig   `mapstructure:"signal"`
	WebRTC   WebRTCConfig   `mapstructure:"webrtc"`
	Log      LogConfig      `mapstructure:"log"`
}

// ProtocolConfig holds the chunking and pacing constants. Both peers should
// agree on ChunkSize; a receiver only warns when they differ.
type ProtocolConfig struct {
	ChunkSize int           `mapstructure:"chunk_size" validate:"min=1,max=65536"`
	PaceEvery int           `mapstructure:"pace_every" validate:"min=1"`
	PaceDelay time.Duration `mapstructure:"pace_delay" validate:"gte=0"`
}

type TransferConfig struct {
	// StallTimeout of zero disables the stall sweep.
	StallTimeout  time.Duration `mapstructure:"stall_timeout" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	DownloadDir   string        `mapstructure:"download_dir" validate:"required"`
	// MaxFileSize caps the size an incoming transfer may declare.
	MaxFileSize int64 `mapstructure:"max_file_size" validate:"min=1"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type SignalConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`
	Path   string `mapstructure:"path" validate:"required,startswith=/"`
}

type WebRTCConfig struct {
	STUNServers []string `mapstructure:"stun_servers" validate:"dive,required"`
	Label       string   `mapstructure:"label" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=pretty text json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("protocol.chunk_size", 16384)
	v.SetDefault("protocol.pace_every", 10)
	v.SetDefault("protocol.pace_delay", 10*time.Millisecond)

	v.SetDefault("transfer.stall_timeout", time.Duration(0))
	v.SetDefault("transfer.sweep_interval", 5*time.Second)
	v.SetDefault("transfer.download_dir", "./downloads")
	v.SetDefault("transfer.max_file_size", int64(DefaultMaxFileSize))

	v.SetDefault("store.path", "sharesync.sqlite3")

	v.SetDefault("signal.listen", ":9000")
	v.SetDefault("signal.path", "/signal")

	v.SetDefault("webrtc.stun_servers", defaultSTUNServers)
	v.SetDefault("webrtc.label", "file-transfer")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "pretty")
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration. An empty path searches for sharesync.yaml in the
// working directory and $HOME/.sharesync; a missing file is not an error then.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sharesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sharesync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
