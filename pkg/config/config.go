// FILE: config.go
// Package config loads the execution core's runtime configuration: server
// settings, the trade journal path, and the default Razor strategy knobs
// new instances start from absent an explicit per-instance override.
//
// Adapted from the teacher's env.go/config.go (a Config struct plus a
// loader with sane defaults, read once at startup) but backed by
// spf13/viper instead of a hand-rolled .env scanner, so the same defaults
// can be overridden by a config file or environment variables (RAZOR_*
// prefix) without touching this file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/razorcore/execution-core/internal/domain"
)

// ServerConfig holds the control-plane HTTP surface's settings (spec.md
// §6's three verbs, served by cmd/executorcore).
type ServerConfig struct {
	Port            int
	MetricsPort     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// Config is the process-wide configuration loaded once at startup.
type Config struct {
	LogLevel   string
	JournalDSN string

	Server ServerConfig

	Broker      domain.Broker
	Environment domain.Environment

	// DefaultStrategy holds the strategy defaults as loaded. The control
	// plane's start handler does not read it: a start request without a
	// config body uses domain.DefaultStrategyConfig().
	DefaultStrategy domain.StrategyConfig
}

// Load reads defaults, an optional config file (name "razor", searched in
// ./ and /etc/razor/), and RAZOR_-prefixed environment variables, in that
// precedence order (env overrides file overrides defaults — viper's
// standard resolution order).
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RAZOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("razor")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/razor")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
		// no config file present: defaults + env only, same as the
		// teacher's loadBotEnv() silently proceeding without a .env.
	}

	return Config{
		LogLevel:   v.GetString("log_level"),
		JournalDSN: v.GetString("journal_dsn"),
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			MetricsPort:     v.GetInt("server.metrics_port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			CORSOrigins:     v.GetStringSlice("server.cors_origins"),
		},
		Broker:      domain.Broker(v.GetString("broker")),
		Environment: domain.Environment(v.GetString("environment")),
		DefaultStrategy: domain.StrategyConfig{
			TradeSize:                     v.GetFloat64("strategy.trade_size"),
			StopLossPercent:               v.GetFloat64("strategy.stop_loss_percent"),
			TakeProfitPercent:             v.GetFloat64("strategy.take_profit_percent"),
			MaxConcurrentTrades:           v.GetInt("strategy.max_concurrent_trades"),
			MaxDailyTrades:                v.GetInt("strategy.max_daily_trades"),
			CooldownMinutes:               v.GetInt("strategy.cooldown_minutes"),
			BreakEvenEnabled:              v.GetBool("strategy.break_even_enabled"),
			BreakEvenTriggerToTP:          v.GetFloat64("strategy.break_even_trigger_to_tp"),
			BreakEvenOffsetTicks:          v.GetFloat64("strategy.break_even_offset_ticks"),
			TrailingStopEnabled:           v.GetBool("strategy.trailing_stop_enabled"),
			TrailingStopActivationPercent: v.GetFloat64("strategy.trailing_stop_activation_percent"),
			TrailingStopDistance:          v.GetFloat64("strategy.trailing_stop_distance"),
			UseTrendFilter:                v.GetBool("strategy.use_trend_filter"),
			EMA5mFast:                     v.GetInt("strategy.ema_5m_fast"),
			EMA5mSlow:                     v.GetInt("strategy.ema_5m_slow"),
			EMA15mFast:                    v.GetInt("strategy.ema_15m_fast"),
			EMA15mSlow:                    v.GetInt("strategy.ema_15m_slow"),
			MinVolatility:                 v.GetFloat64("strategy.min_volatility"),
			MaxVolatility:                 v.GetFloat64("strategy.max_volatility"),
			RSIOversold:                   v.GetFloat64("strategy.rsi_oversold"),
			RSIOverbought:                 v.GetFloat64("strategy.rsi_overbought"),
			RSIExtremeThreshold:           v.GetFloat64("strategy.rsi_extreme_threshold"),
			AdaptiveRiskEnabled:           v.GetBool("strategy.adaptive_risk_enabled"),
			ATRPeriod:                     v.GetInt("strategy.atr_period"),
			PullbackPercent:               v.GetFloat64("strategy.pullback_percent"),
			MinConfluenceScore:            v.GetFloat64("strategy.min_confluence_score"),
		},
	}, nil
}

// setDefaults mirrors domain.DefaultStrategyConfig() plus the server/ops
// knobs a fresh checkout needs no file to run with (spec.md §3's defaults
// table, teacher's getEnv(key, def) "sane defaults if keys are missing").
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("journal_dsn", "razor.db")
	v.SetDefault("broker", "deribit")
	v.SetDefault("environment", string(domain.EnvironmentTestnet))

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	d := domain.DefaultStrategyConfig()
	v.SetDefault("strategy.trade_size", d.TradeSize)
	v.SetDefault("strategy.stop_loss_percent", d.StopLossPercent)
	v.SetDefault("strategy.take_profit_percent", d.TakeProfitPercent)
	v.SetDefault("strategy.max_concurrent_trades", d.MaxConcurrentTrades)
	v.SetDefault("strategy.max_daily_trades", d.MaxDailyTrades)
	v.SetDefault("strategy.cooldown_minutes", d.CooldownMinutes)
	v.SetDefault("strategy.break_even_enabled", d.BreakEvenEnabled)
	v.SetDefault("strategy.break_even_trigger_to_tp", d.BreakEvenTriggerToTP)
	v.SetDefault("strategy.break_even_offset_ticks", d.BreakEvenOffsetTicks)
	v.SetDefault("strategy.trailing_stop_enabled", d.TrailingStopEnabled)
	v.SetDefault("strategy.trailing_stop_activation_percent", d.TrailingStopActivationPercent)
	v.SetDefault("strategy.trailing_stop_distance", d.TrailingStopDistance)
	v.SetDefault("strategy.use_trend_filter", d.UseTrendFilter)
	v.SetDefault("strategy.ema_5m_fast", d.EMA5mFast)
	v.SetDefault("strategy.ema_5m_slow", d.EMA5mSlow)
	v.SetDefault("strategy.ema_15m_fast", d.EMA15mFast)
	v.SetDefault("strategy.ema_15m_slow", d.EMA15mSlow)
	v.SetDefault("strategy.min_volatility", d.MinVolatility)
	v.SetDefault("strategy.max_volatility", d.MaxVolatility)
	v.SetDefault("strategy.rsi_oversold", d.RSIOversold)
	v.SetDefault("strategy.rsi_overbought", d.RSIOverbought)
	v.SetDefault("strategy.rsi_extreme_threshold", d.RSIExtremeThreshold)
	v.SetDefault("strategy.adaptive_risk_enabled", d.AdaptiveRiskEnabled)
	v.SetDefault("strategy.atr_period", d.ATRPeriod)
	v.SetDefault("strategy.pullback_percent", d.PullbackPercent)
	v.SetDefault("strategy.min_confluence_score", d.MinConfluenceScore)
}
