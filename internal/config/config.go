package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// MaxSampleRate bounds audio.sample_rate and with it frame.fps.
const MaxSampleRate = 768000

// EnvPrefix prefixes environment overrides, e.g. L3X_FRAME_FPS=30.
const EnvPrefix = "L3X"

// Picker kinds for files.picker.
const (
	PickerInbox  = "inbox"
	PickerPrompt = "prompt"
	PickerNone   = "none"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	// Directory searched for guests named on the command line.
	GuestsDir string      `mapstructure:"guests_dir"`
	Wasm      WasmConfig  `mapstructure:"wasm"`
	Frame     FrameConfig `mapstructure:"frame"`
	Files     FilesConfig `mapstructure:"files"`
	Audio     AudioConfig `mapstructure:"audio"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Keep debug info for guest stack traces.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory. Empty keeps compiled code in memory.
	CacheDir string `mapstructure:"cache_dir"`
	// Limit for a single guest call. Zero disables it.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	// Provide wasi_snapshot_preview1.
	WASI bool `mapstructure:"wasi"`
}

// FrameConfig controls the guest frame loop.
type FrameConfig struct {
	FPS int `mapstructure:"fps"`
	// Stop after this many frames. Zero runs until interrupted.
	Limit int `mapstructure:"limit"`
}

// FilesConfig controls how files reach the guest and how its artifacts
// reach the user.
type FilesConfig struct {
	// One of inbox, prompt or none.
	Picker string `mapstructure:"picker"`
	// Directory watched by the inbox picker.
	InboxDir string `mapstructure:"inbox_dir"`
	// Quiet period before an inbox file is read.
	Settle time.Duration `mapstructure:"settle"`

	PrimaryExt   string `mapstructure:"primary_ext"`
	SecondaryExt string `mapstructure:"secondary_ext"`

	// Directory exported artifacts are written to. Empty disables it.
	DownloadDir string `mapstructure:"download_dir"`
	// Address serving exported artifacts over HTTP. Empty disables it.
	HTTPAddr string `mapstructure:"http_addr"`
}

// AudioConfig controls tone synthesis.
type AudioConfig struct {
	SampleRate int     `mapstructure:"sample_rate"`
	MaxGain    float64 `mapstructure:"max_gain"`
	WarnVoices int     `mapstructure:"warn_voices"`
	// WAV file the rendered output is recorded to. Empty disables it.
	RecordPath string `mapstructure:"record_path"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"guests":    "guests_dir",
	"fps":       "frame.fps",
	"frames":    "frame.limit",
	"picker":    "files.picker",
	"inbox":     "files.inbox_dir",
	"downloads": "files.download_dir",
	"http":      "files.http_addr",
	"record":    "audio.record_path",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("guests_dir", "./guests")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.execution_timeout", "5s")
	v.SetDefault("wasm.wasi", false)

	v.SetDefault("frame.fps", 60)
	v.SetDefault("frame.limit", 0)

	v.SetDefault("files.picker", PickerInbox)
	v.SetDefault("files.inbox_dir", "./inbox")
	v.SetDefault("files.settle", "200ms")
	v.SetDefault("files.primary_ext", "l3")
	v.SetDefault("files.secondary_ext", "l3x")
	v.SetDefault("files.download_dir", "./downloads")
	v.SetDefault("files.http_addr", "")

	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.max_gain", 1.0)
	v.SetDefault("audio.warn_voices", 64)
	v.SetDefault("audio.record_path", "")
}

// Load reads configuration from defaults, the optional file at configPath,
// L3X_* environment variables and flags, in increasing precedence.
// Only flags that were set on the command line override other sources.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error

	if _, lerr := zapcore.ParseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("log_level: %w", lerr))
	}
	if c.Frame.FPS <= 0 {
		err = multierr.Append(err, fmt.Errorf("frame.fps must be positive, got %d", c.Frame.FPS))
	}
	if c.Frame.Limit < 0 {
		err = multierr.Append(err, fmt.Errorf("frame.limit must not be negative, got %d", c.Frame.Limit))
	}
	if c.Wasm.ExecutionTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("wasm.execution_timeout must not be negative"))
	}

	switch c.Files.Picker {
	case PickerInbox, PickerPrompt, PickerNone:
	default:
		err = multierr.Append(err, fmt.Errorf("files.picker must be %s, %s or %s, got %q",
			PickerInbox, PickerPrompt, PickerNone, c.Files.Picker))
	}
	if c.Files.Picker == PickerInbox && c.Files.InboxDir == "" {
		err = multierr.Append(err, fmt.Errorf("files.inbox_dir is required for the inbox picker"))
	}
	if c.Files.PrimaryExt == "" || c.Files.SecondaryExt == "" {
		err = multierr.Append(err, fmt.Errorf("files.primary_ext and files.secondary_ext must be set"))
	} else if c.Files.PrimaryExt == c.Files.SecondaryExt {
		err = multierr.Append(err, fmt.Errorf("files.primary_ext and files.secondary_ext must differ, both are %q", c.Files.PrimaryExt))
	}

	switch {
	case c.Audio.SampleRate <= 0:
		err = multierr.Append(err, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	case c.Audio.SampleRate > MaxSampleRate:
		err = multierr.Append(err, fmt.Errorf("audio.sample_rate must be at most %d, got %d", MaxSampleRate, c.Audio.SampleRate))
	case c.Frame.FPS > c.Audio.SampleRate:
		// Each frame renders sample_rate/fps samples, so that share must not be empty.
		err = multierr.Append(err, fmt.Errorf("frame.fps must not exceed audio.sample_rate (%d), got %d",
			c.Audio.SampleRate, c.Frame.FPS))
	}
	if c.Audio.MaxGain <= 0 {
		err = multierr.Append(err, fmt.Errorf("audio.max_gain must be positive, got %g", c.Audio.MaxGain))
	}

	return err
}
