// Package config is the CLI/YAML configuration surface shared by the
// three gateway binaries (spec §6 "CLI surface"). It mirrors the
// teacher's generated cfg.Config: a flat struct with one yaml tag per
// flag, bound through pflag+viper rather than parsed by hand.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/syndicate-storage/syndicate-sub005/internal/logger"
)

// Config holds every flag in spec §6's shared CLI surface. Fields are
// yaml-tagged so the same struct is populated whether the value came
// from a flag, an environment variable, or the -c config file.
type Config struct {
	ConfigFile string `yaml:"config-file"`

	MSURL string `yaml:"ms-url"`

	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	UserkeyPath        string `yaml:"userkey-path"`
	UserkeyPEM         string `yaml:"userkey-pem"`
	Anonymous          bool   `yaml:"anonymous"`
	ReadArgsFromStdin  bool   `yaml:"read-args-from-stdin"`

	Volume  string `yaml:"volume"`
	Gateway string `yaml:"gateway"`

	VolumePubkey       string `yaml:"volume-pubkey"`
	GatewayPrivkey     string `yaml:"gateway-privkey"`
	DecryptionPassword string `yaml:"decryption-password"`
	SyndicatePubkey    string `yaml:"syndicate-pubkey"`

	TLSKey  string `yaml:"tls-key"`
	TLSCert string `yaml:"tls-cert"`

	StorageRoot string `yaml:"storage-root"`

	CacheSoftLimitBytes int64 `yaml:"cache-soft-limit-bytes"`
	CacheHardLimitBytes int64 `yaml:"cache-hard-limit-bytes"`

	DebugLevel string `yaml:"debug-level"`
}

// BindFlags registers every flag in spec §6 on flagSet, using the exact
// short letters the spec names, and binds each to viper under a key
// matching its yaml tag (teacher's cfg.BindFlags pattern).
func BindFlags(flagSet *pflag.FlagSet) error {
	type binding struct {
		viperKey string
		flagName string
	}
	var bound []binding

	flagSet.StringP("config-file", "c", "", "path to a YAML config file")
	flagSet.StringP("ms-url", "m", "", "metadata service URL")
	flagSet.StringP("user", "u", "", "syndicate user name")
	flagSet.StringP("password", "p", "", "user password")
	flagSet.StringP("userkey-path", "U", "", "path to a PEM-encoded user private key")
	flagSet.StringP("userkey-pem", "P", "", "inline PEM-encoded user private key")
	flagSet.StringP("volume", "v", "", "volume name")
	flagSet.StringP("gateway", "g", "", "gateway name")
	flagSet.StringP("volume-pubkey", "V", "", "path to the volume's public key")
	flagSet.StringP("gateway-privkey", "G", "", "path to this gateway's private key")
	flagSet.StringP("decryption-password", "K", "", "password protecting the gateway private key")
	flagSet.StringP("syndicate-pubkey", "S", "", "path to the syndicate's public key")
	flagSet.StringP("tls-key", "T", "", "path to a TLS private key for the gateway-to-gateway listener")
	flagSet.StringP("tls-cert", "C", "", "path to a TLS certificate for the gateway-to-gateway listener")
	flagSet.StringP("storage-root", "r", "", "local root for cached blocks and driver processes")
	flagSet.Int64P("cache-soft-limit-bytes", "l", 0, "local cache soft limit in bytes")
	flagSet.Int64P("cache-hard-limit-bytes", "L", 0, "local cache hard limit in bytes")
	flagSet.StringP("debug-level", "d", "info", "log severity: trace|debug|info|warning|error|off")
	flagSet.BoolP("anonymous", "a", false, "connect without user credentials")
	flagSet.BoolP("read-args-from-stdin", "R", false, "read the remaining arguments from stdin, one per line")

	bound = []binding{
		{"config-file", "config-file"},
		{"ms-url", "ms-url"},
		{"user", "user"},
		{"password", "password"},
		{"userkey-path", "userkey-path"},
		{"userkey-pem", "userkey-pem"},
		{"volume", "volume"},
		{"gateway", "gateway"},
		{"volume-pubkey", "volume-pubkey"},
		{"gateway-privkey", "gateway-privkey"},
		{"decryption-password", "decryption-password"},
		{"syndicate-pubkey", "syndicate-pubkey"},
		{"tls-key", "tls-key"},
		{"tls-cert", "tls-cert"},
		{"storage-root", "storage-root"},
		{"cache-soft-limit-bytes", "cache-soft-limit-bytes"},
		{"cache-hard-limit-bytes", "cache-hard-limit-bytes"},
		{"debug-level", "debug-level"},
		{"anonymous", "anonymous"},
		{"read-args-from-stdin", "read-args-from-stdin"},
	}

	for _, b := range bound {
		if err := viper.BindPFlag(b.viperKey, flagSet.Lookup(b.flagName)); err != nil {
			return fmt.Errorf("binding flag %s: %w", b.flagName, err)
		}
	}
	return nil
}

// Load reads cfgFile (if non-empty) into viper, then unmarshals the
// merged flag/env/file state into a Config (teacher's initConfig).
func Load(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the cross-field invariants spec §6's CLI surface
// implies but a flat flag set cannot enforce on its own.
func (c *Config) Validate() error {
	if c.MSURL == "" {
		return fmt.Errorf("ms-url is required")
	}
	if c.Volume == "" {
		return fmt.Errorf("volume is required")
	}
	if c.Gateway == "" {
		return fmt.Errorf("gateway is required")
	}
	if c.GatewayPrivkey == "" {
		return fmt.Errorf("gateway-privkey is required")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("storage-root is required")
	}

	if !c.Anonymous {
		n := 0
		if c.Password != "" {
			n++
		}
		if c.UserkeyPath != "" {
			n++
		}
		if c.UserkeyPEM != "" {
			n++
		}
		if n != 1 {
			return fmt.Errorf("exactly one of password, userkey-path, or userkey-pem is required unless anonymous is set")
		}
	}

	if c.CacheSoftLimitBytes > 0 && c.CacheHardLimitBytes > 0 && c.CacheSoftLimitBytes > c.CacheHardLimitBytes {
		return fmt.Errorf("cache-soft-limit-bytes (%d) must not exceed cache-hard-limit-bytes (%d)", c.CacheSoftLimitBytes, c.CacheHardLimitBytes)
	}

	if _, err := logger.ParseSeverity(c.DebugLevel); err != nil {
		return fmt.Errorf("debug-level: %w", err)
	}

	return nil
}
