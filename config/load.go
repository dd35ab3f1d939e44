package config

import (
	"bytes"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Load reads and validates a Config from the given file path using viper.
// The file format (yaml/json/toml) is inferred from its extension.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, ErrorFileRead.Error(err)
	}

	return decode(v)
}

// LoadBytes reads and validates a Config from an in-memory buffer, given its format
// (e.g. "yaml", "json", "toml").
func LoadBytes(format string, data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType(format)
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, ErrorFileRead.Error(err)
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.bufferSize", 8192)
	v.SetDefault("worker.bodyBufferSize", 65536)
	v.SetDefault("worker.keepAliveTimeoutMs", 45000)
	v.SetDefault("bus.reconnectMax", -1)
	v.SetDefault("log.level", "info")
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, ErrorFileDecode.Error(err)
	}

	if len(cfg.Listeners) == 0 {
		return nil, ErrorNoListener.Error()
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, ErrorValidation.Error(err)
	}

	return cfg, nil
}
