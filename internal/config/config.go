// Package config loads actionsyncd's runtime configuration through
// viper, bound to cobra flags the way bacalhau's cmd/cli/serve layers
// flags over environment over a config file over built-in defaults.
package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is actionsyncd's full runtime configuration.
type Config struct {
	NodeID        string        `mapstructure:"node_id"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	LogLevel      string        `mapstructure:"log_level"`
	Ping          time.Duration `mapstructure:"ping"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FixTime       bool          `mapstructure:"fix_time"`
	Subprotocol   string        `mapstructure:"subprotocol"`
	Reconnect     bool          `mapstructure:"reconnect"`
	ReconnectMin  time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax  time.Duration `mapstructure:"reconnect_max"`
	ReconnectCap  int           `mapstructure:"reconnect_attempts"`
}

// Defaults returns the configuration used when no flag, environment
// variable, or config file overrides a field.
func Defaults() Config {
	return Config{
		ListenAddr:   ":31337",
		LogLevel:     "info",
		Ping:         10 * time.Second,
		Timeout:      5 * time.Second,
		Reconnect:    true,
		ReconnectMin: time.Second,
		ReconnectMax: 5 * time.Second,
	}
}

// BindFlags registers cmd's persistent flags and binds each to viper
// under the same key used in Config's mapstructure tags, so flags, env
// vars (ACTIONSYNC_*), and a config file all resolve into one value.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	d := Defaults()
	flags := cmd.PersistentFlags()

	flags.String("node-id", d.NodeID, "this node's id (a random UUID when empty)")
	flags.String("listen-addr", d.ListenAddr, "address to accept incoming websocket connections on")
	flags.String("log-level", d.LogLevel, "trace|debug|info|warn|error")
	flags.Duration("ping", d.Ping, "heartbeat ping interval, 0 disables heartbeats")
	flags.Duration("timeout", d.Timeout, "heartbeat pong timeout")
	flags.Bool("fix-time", d.FixTime, "estimate remote clock offset during handshake")
	flags.String("subprotocol", d.Subprotocol, "application subprotocol string advertised at handshake")
	flags.Bool("reconnect", true, "automatically reconnect after a non-terminal disconnect")
	flags.Duration("reconnect-min", d.ReconnectMin, "minimum reconnect backoff delay")
	flags.Duration("reconnect-max", d.ReconnectMax, "maximum reconnect backoff delay")
	flags.Int("reconnect-attempts", d.ReconnectCap, "reconnect attempt cap, 0 means unlimited")

	for _, name := range []string{
		"node-id", "listen-addr", "log-level", "ping", "timeout", "fix-time",
		"subprotocol", "reconnect", "reconnect-min", "reconnect-max", "reconnect-attempts",
	} {
		if err := v.BindPFlag(mapstructureKey(name), flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// mapstructureKey converts a dashed flag name to the underscored key its
// mapstructure tag uses.
func mapstructureKey(flagName string) string {
	out := make([]rune, 0, len(flagName))
	for _, r := range flagName {
		if r == '-' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}

// Load builds a Config from environment variables prefixed
// ACTIONSYNC_, an optional config file, and flags already bound with
// BindFlags, in ascending priority (flags win).
func Load(v *viper.Viper, configFile string) (Config, error) {
	v.SetEnvPrefix("actionsync")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
