//go:build linux || darwin

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/go-evloop"
	"github.com/joeycumines/logiface"
	"github.com/spf13/viper"
)

const (
	configKey         = "config"
	logLevelKey       = "log-level"
	metricsAddrKey    = "metrics-addr"
	ioCollectKey      = "io-collect"
	timeoutCollectKey = "timeout-collect"
	statsKey          = "stats"

	envPrefix = "EVWATCH"
)

// configKeys are the settings resolved through viper, in addition to the
// config file path itself.
var configKeys = []string{logLevelKey, metricsAddrKey, ioCollectKey, timeoutCollectKey, statsKey}

type config struct {
	LogLevel       string        `mapstructure:"log-level"`
	MetricsAddr    string        `mapstructure:"metrics-addr"`
	IOCollect      time.Duration `mapstructure:"io-collect"`
	TimeoutCollect time.Duration `mapstructure:"timeout-collect"`
	Stats          bool          `mapstructure:"stats"`
}

// loadConfig resolves the configuration, from lowest to highest precedence:
// defaults, the config file at path (if any), EVWATCH_* environment
// variables, then overrides (explicitly set flags).
func loadConfig(path string, overrides map[string]any) (*config, error) {
	v := viper.New()
	v.SetDefault(logLevelKey, "info")
	v.SetDefault(metricsAddrKey, "")
	v.SetDefault(ioCollectKey, time.Duration(0))
	v.SetDefault(timeoutCollectKey, time.Duration(0))
	v.SetDefault(statsKey, false)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loopOptions maps the configuration onto evloop options.
func (c *config) loopOptions(logger *logiface.Logger[logiface.Event]) []evloop.LoopOption {
	return []evloop.LoopOption{
		evloop.WithLogger(logger),
		evloop.WithMetrics(c.Stats || c.MetricsAddr != ""),
		evloop.WithIOCollectInterval(c.IOCollect),
		evloop.WithTimeoutCollectInterval(c.TimeoutCollect),
	}
}

var levelNames = map[string]logiface.Level{
	"disabled":  logiface.LevelDisabled,
	"off":       logiface.LevelDisabled,
	"emerg":     logiface.LevelEmergency,
	"alert":     logiface.LevelAlert,
	"crit":      logiface.LevelCritical,
	"err":       logiface.LevelError,
	"error":     logiface.LevelError,
	"warning":   logiface.LevelWarning,
	"warn":      logiface.LevelWarning,
	"notice":    logiface.LevelNotice,
	"info":      logiface.LevelInformational,
	"debug":     logiface.LevelDebug,
	"trace":     logiface.LevelTrace,
	"emergency": logiface.LevelEmergency,
	"critical":  logiface.LevelCritical,
}

func parseLevel(s string) (logiface.Level, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}
