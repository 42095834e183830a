package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "MEDIA"

type Config struct {
	Bind       string           `mapstructure:"bind"`
	RTMP       RTMPConfig       `mapstructure:"rtmp"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Record     RecordConfig     `mapstructure:"record"`
	Statistics StatisticsConfig `mapstructure:"statistics"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

type RTMPConfig struct {
	Port int `mapstructure:"port"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// RecordConfig durations are in seconds. viper lower-cases keys, so
// record.segmentDuration arrives as segmentduration.
type RecordConfig struct {
	Path            string `mapstructure:"path"`
	SegmentDuration int    `mapstructure:"segmentduration"`
	CheckInterval   int    `mapstructure:"checkinterval"`
}

type StatisticsConfig struct {
	// Interval is in milliseconds.
	Interval int `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type AuthConfig struct {
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("bind", "0.0.0.0")
	v.SetDefault("rtmp.port", 1935)
	v.SetDefault("http.port", 8000)
	v.SetDefault("record.path", "")
	v.SetDefault("record.segmentDuration", 1800)
	v.SetDefault("record.checkInterval", 60)
	v.SetDefault("statistics.interval", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("auth.user", "")
	v.SetDefault("auth.pass", "")
}

// LoadDotEnv loads .env style files into the environment. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// Load reads defaults, the optional config file, MEDIA_* environment
// variables and any flags already bound to v.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "config decoder")
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Record.SegmentDuration <= 0 {
		c.Record.SegmentDuration = 1800
	}
	if c.Record.CheckInterval <= 0 {
		c.Record.CheckInterval = 60
	}
	if c.Statistics.Interval <= 0 {
		c.Statistics.Interval = 1000
	}
}

func (c RecordConfig) SegmentEvery() time.Duration {
	return time.Duration(c.SegmentDuration) * time.Second
}

func (c RecordConfig) CheckEvery() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

func (c StatisticsConfig) SampleEvery() time.Duration {
	return time.Duration(c.Interval) * time.Millisecond
}
