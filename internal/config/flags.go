package config

import "flag"

// CLIFlags holds command-line overrides. Nil pointers mean the flag was
// not provided.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags registers and parses the daemon's command-line flags from
// args (without the program name).
func ParseFlags(args []string) (*CLIFlags, error) {
	fs := flag.NewFlagSet("circadian", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "status API port")
	fs.StringVar(port, "p", "", "status API port (shorthand)")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "postgres connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	flags := &CLIFlags{}
	if *configPath != "" {
		flags.ConfigPath = configPath
	}
	if *port != "" {
		flags.Port = port
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	if *dsn != "" {
		flags.DSN = dsn
	}
	if *natsURL != "" {
		flags.NatsURL = natsURL
	}
	return flags, nil
}

func (c *Config) applyCLI(flags *CLIFlags) {
	if flags == nil {
		return
	}
	if flags.Port != nil {
		c.API.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		c.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		c.Postgres.DSN = *flags.DSN
		c.Store.Driver = "postgres"
	}
	if flags.NatsURL != nil {
		c.NATS.URL = *flags.NatsURL
	}
}

// LoadWithCLI builds the configuration with CLI flags layered on top of
// defaults, YAML and environment. It returns the resolved config file
// path alongside the config.
func LoadWithCLI(flags *CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags != nil && flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path, path != DefaultConfigFile); err != nil {
		return nil, "", err
	}
	loadEnv(&cfg)
	cfg.applyCLI(flags)

	if err := cfg.validate(); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}
