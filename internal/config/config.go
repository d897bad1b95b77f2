// Package config loads server settings from a yaml file and environment
// variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Settings are the server inputs the core reads but does not define the
// loading of elsewhere.
type Settings struct {
	Server struct {
		Address     string `mapstructure:"address"`
		Name        string `mapstructure:"name"`
		Description string `mapstructure:"description"`
		// Password gates joining; empty disables the check. Logged-in users
		// bypass it.
		Password string `mapstructure:"password"`
		// AllowGuestLogins permits joining without an account.
		AllowGuestLogins bool `mapstructure:"allowGuestLogins"`
		// RegistrationMode is one of none, normal, preapproved, webpage,
		// message.
		RegistrationMode string `mapstructure:"registrationMode"`
		// RedirectTo, when set, turns away every new connection with the
		// named replacement host. Used to drain a server before shutdown.
		RedirectTo string `mapstructure:"redirectTo"`
	} `mapstructure:"server"`

	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`

	Audio struct {
		MinBitrate     int `mapstructure:"minBitrate"`
		MaxBitrate     int `mapstructure:"maxBitrate"`
		DefaultBitrate int `mapstructure:"defaultBitrate"`
	} `mapstructure:"audio"`

	Transport struct {
		WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
		RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	} `mapstructure:"transport"`
}

// Load reads configuration from fileName.yaml and PARLANCE_* env vars.
func Load(log *zap.Logger, fileName string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.name", "Parlance Server")
	v.SetDefault("server.allowGuestLogins", true)
	v.SetDefault("server.registrationMode", "none")
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("audio.minBitrate", 16000)
	v.SetDefault("audio.maxBitrate", 128000)
	v.SetDefault("audio.defaultBitrate", 64000)
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.requestTimeout", "15s")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PARLANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading config file")
		}
		log.Warn("config file not found, relying on defaults and env vars",
			zap.String("file", fileName))
	}

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	if cfg.Audio.MinBitrate > cfg.Audio.MaxBitrate {
		return nil, errors.Errorf("minBitrate %d exceeds maxBitrate %d",
			cfg.Audio.MinBitrate, cfg.Audio.MaxBitrate)
	}
	return &cfg, nil
}
