// Package config prepares Viper instances for crawlpilot: file search
// paths, the environment binding, and the config file name live here so
// the typed loader and the CLI agree on where settings come from.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override,
// e.g. CRAWLPILOT_SERVER_PORT=9090.
const EnvPrefix = "CRAWLPILOT"

// NewViper returns a viper instance wired with crawlpilot's conventions:
// a config file named config.{yaml,toml,...} searched in the working
// directory, /etc/crawlpilot/, and $HOME/.crawlpilot, plus automatic
// environment overrides with keys like crawl.rounds mapped to
// CRAWLPILOT_CRAWL_ROUNDS.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/crawlpilot/")
	v.AddConfigPath("$HOME/.crawlpilot")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
