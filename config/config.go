/*
config.go - Server configuration

PURPOSE:
  Collects everything cmd/server needs to start: listen address, storage
  backend, JWT secret, logging, the rollover schedule and the organisation
  configuration.

PRECEDENCE (lowest to highest):
  1. Defaults
  2. YAML file (--config / LEAVE_CONFIG)
  3. Environment (LEAVE_*)
  4. Flags given on the command line

YAML LAYOUT:
  server:
    addr: ":8080"
    db_driver: sqlite
    db: leave.db
    jwt_secret: ...
    log_level: info
    rollover_schedule: "0 0 1 1 *"
    cors_origins: ["http://localhost:5173"]
    seed: org.yaml
  org:
    root_department_id: central
    directorate_id: primary
    secretarial_categories: [support-center, thematic-center]

SEE ALSO:
  - org/config.go: organisation section
  - cmd/server/main.go: consumer
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/apettas/adeies/org"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultRolloverSchedule fires at midnight on January 1st.
const DefaultRolloverSchedule = "0 0 1 1 *"

type Server struct {
	Addr             string   `yaml:"addr"`
	DBDriver         string   `yaml:"db_driver"`
	DB               string   `yaml:"db"`
	JWTSecret        string   `yaml:"jwt_secret"`
	LogLevel         string   `yaml:"log_level"`
	LogPretty        bool     `yaml:"log_pretty"`
	RolloverSchedule string   `yaml:"rollover_schedule"`
	CORSOrigins      []string `yaml:"cors_origins"`
	Seed             string   `yaml:"seed"` // organisation definition loaded into an empty store
	Demo             bool     `yaml:"demo"` // mount /api/scenarios
}

type Config struct {
	Server Server     `yaml:"server"`
	Org    org.Config `yaml:"org"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:             ":8080",
			DBDriver:         DriverSQLite,
			DB:               "leave.db",
			LogLevel:         "info",
			RolloverSchedule: DefaultRolloverSchedule,
			CORSOrigins:      []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Org: org.DefaultConfig(),
	}
}

// ErrHelp is returned by Load when -h/--help was given; usage has been printed.
var ErrHelp = pflag.ErrHelp

// Load builds the configuration from args (without the program name), the
// environment and the optional YAML file, then validates it.
func Load(args []string) (Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()

	var flags Server
	var path string
	fs := pflag.NewFlagSet("leave-server", pflag.ContinueOnError)
	fs.StringVar(&path, "config", "", "YAML configuration file")
	fs.StringVar(&flags.Addr, "addr", cfg.Server.Addr, "HTTP listen address")
	fs.StringVar(&flags.DBDriver, "db-driver", cfg.Server.DBDriver, "storage backend: sqlite, postgres or memory")
	fs.StringVar(&flags.DB, "db", cfg.Server.DB, "SQLite path or PostgreSQL DSN")
	fs.StringVar(&flags.JWTSecret, "jwt-secret", "", "HS256 secret for bearer tokens")
	fs.StringVar(&flags.LogLevel, "log-level", cfg.Server.LogLevel, "log level")
	fs.BoolVar(&flags.LogPretty, "log-pretty", false, "human readable console logs")
	fs.StringVar(&flags.RolloverSchedule, "rollover-schedule", cfg.Server.RolloverSchedule, "cron expression for the yearly rollover, empty disables it")
	fs.StringSliceVar(&flags.CORSOrigins, "cors-origins", cfg.Server.CORSOrigins, "allowed CORS origins")
	fs.StringVar(&flags.Seed, "seed", "", "organisation definition to load when the store is empty")
	fs.BoolVar(&flags.Demo, "demo", false, "enable demo scenarios (they reset the store)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if extra := fs.Args(); len(extra) > 0 {
		return cfg, fmt.Errorf("unexpected argument: %s", extra[0])
	}

	if path == "" {
		path = getenv("LEAVE_CONFIG")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}

	s := &cfg.Server
	if fs.Changed("addr") {
		s.Addr = flags.Addr
	}
	if fs.Changed("db-driver") {
		s.DBDriver = flags.DBDriver
	}
	if fs.Changed("db") {
		s.DB = flags.DB
	}
	if fs.Changed("jwt-secret") {
		s.JWTSecret = flags.JWTSecret
	}
	if fs.Changed("log-level") {
		s.LogLevel = flags.LogLevel
	}
	if fs.Changed("log-pretty") {
		s.LogPretty = flags.LogPretty
	}
	if fs.Changed("rollover-schedule") {
		s.RolloverSchedule = flags.RolloverSchedule
	}
	if fs.Changed("cors-origins") {
		s.CORSOrigins = flags.CORSOrigins
	}
	if fs.Changed("seed") {
		s.Seed = flags.Seed
	}
	if fs.Changed("demo") {
		s.Demo = flags.Demo
	}

	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	s := &c.Server
	setString(&s.Addr, getenv("LEAVE_ADDR"))
	setString(&s.DBDriver, getenv("LEAVE_DB_DRIVER"))
	setString(&s.DB, getenv("LEAVE_DB"))
	setString(&s.JWTSecret, getenv("LEAVE_JWT_SECRET"))
	setString(&s.LogLevel, getenv("LEAVE_LOG_LEVEL"))
	setString(&s.RolloverSchedule, getenv("LEAVE_ROLLOVER_SCHEDULE"))
	setString(&s.Seed, getenv("LEAVE_SEED"))
	if v := getenv("LEAVE_CORS_ORIGINS"); v != "" {
		s.CORSOrigins = splitList(v)
	}
	if err := setBool(&s.LogPretty, "LEAVE_LOG_PRETTY", getenv); err != nil {
		return err
	}
	if err := setBool(&s.Demo, "LEAVE_DEMO", getenv); err != nil {
		return err
	}
	setString((*string)(&c.Org.RootDepartmentID), getenv("LEAVE_ORG_ROOT"))
	setString((*string)(&c.Org.DirectorateID), getenv("LEAVE_ORG_DIRECTORATE"))
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string, getenv func(string) string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the server section and, when a root department is named,
// the organisation section. An empty org section is filled from the seed
// definition at startup.
func (c Config) Validate() error {
	var errs []error
	s := c.Server
	if s.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch s.DBDriver {
	case DriverSQLite, DriverPostgres:
		if s.DB == "" {
			errs = append(errs, fmt.Errorf("db is required for driver %s", s.DBDriver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", s.DBDriver))
	}
	if s.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required (--jwt-secret or LEAVE_JWT_SECRET)"))
	}
	if s.RolloverSchedule != "" {
		if _, err := cron.ParseStandard(s.RolloverSchedule); err != nil {
			errs = append(errs, fmt.Errorf("rollover schedule: %w", err))
		}
	}
	if c.Org.RootDepartmentID != "" {
		if err := c.Org.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
