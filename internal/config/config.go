// Package config loads replica configuration from a YAML file and HLCSYNC_*
// environment variables, then validates it against an embedded CUE schema.
//
// Precedence, lowest first: defaults, file, environment. Command-line flags
// are applied on top by the CLI.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HLCSYNC_"

// Config is the full replica configuration.
type Config struct {
	// NodeID pins the replica id. Empty means the id stored in the database,
	// generated on first use.
	NodeID string `yaml:"node_id" json:"node_id"`

	// Database is the SQLite file holding the oplog.
	Database string `yaml:"database" json:"database"`

	// PostgresDSN, when set, makes serve keep group oplogs in Postgres.
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`

	Group            string        `yaml:"group" json:"group"`
	MaxDrift         time.Duration `yaml:"max_drift" json:"max_drift"`
	BucketResolution time.Duration `yaml:"bucket_resolution" json:"bucket_resolution"`
	PageSize         int           `yaml:"page_size" json:"page_size"`
	MaxRounds        int           `yaml:"max_rounds" json:"max_rounds"`

	// Peer is the sync server base URL used by sync and watch.
	Peer string `yaml:"peer" json:"peer"`

	// Listen is the serve address.
	Listen string `yaml:"listen" json:"listen"`

	// RedisAddr enables change notices between serve and watch.
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`

	// AllowedOrigins lists browser origins serve accepts on /ws.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Database:         "hlcsync.db",
		Group:            "default",
		MaxDrift:         60 * time.Second,
		BucketResolution: time.Minute,
		PageSize:         500,
		MaxRounds:        32,
		Listen:           ":8080",
	}
}

// Load reads path (optional), applies environment overrides from the process
// environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"NODE_ID":      &cfg.NodeID,
		"DATABASE":     &cfg.Database,
		"POSTGRES_DSN": &cfg.PostgresDSN,
		"GROUP":        &cfg.Group,
		"PEER":         &cfg.Peer,
		"LISTEN":       &cfg.Listen,
		"REDIS_ADDR":   &cfg.RedisAddr,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"MAX_DRIFT":         &cfg.MaxDrift,
		"BUCKET_RESOLUTION": &cfg.BucketResolution,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	ints := map[string]*int{
		"PAGE_SIZE":  &cfg.PageSize,
		"MAX_ROUNDS": &cfg.MaxRounds,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}
	return nil
}

// Validate checks c against the embedded schema. The error lists every
// violation, one per line.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}
