// Package config holds the CLI defaults, loadable from an optional YAML file
// with environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "90s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the complete uploader configuration.
type Config struct {
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
	Endpoint string `yaml:"endpoint"`

	// StateDir is where session state files live, relative to the parts
	// directory unless absolute.
	StateDir string `yaml:"stateDir"`

	Concurrency    int      `yaml:"concurrency"`
	PartRetries    int      `yaml:"partRetries"`
	AttemptTimeout Duration `yaml:"attemptTimeout"`

	SSE SSEConfig `yaml:"sse"`

	// Credentials come from the environment only, never from the file.
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

// SSEConfig selects the server-side encryption mode.
type SSEConfig struct {
	Mode     string `yaml:"mode"`
	KMSKeyID string `yaml:"kmsKeyId"`
}

// DefaultFileName is looked up in the working directory when no config file
// is named explicitly.
const DefaultFileName = "s3multipart.yml"

// DefaultConfig ...
var DefaultConfig = Config{
	StateDir:       ".s3multipart",
	PartRetries:    5,
	AttemptTimeout: Duration(10 * time.Minute),
	SSE: SSEConfig{
		Mode: "AES256",
	},
}

// Load builds the configuration from, in order of precedence: environment
// variables, the YAML file at path (or ./s3multipart.yml when path is empty),
// and the defaults. A missing default file is fine; a named file must exist.
func Load(path string, envRepo env.Repository) (Config, error) {
	cfg := DefaultConfig

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// no config file, defaults apply
	default:
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	if v := envRepo.Get("AWS_REGION"); v != "" {
		cfg.Region = v
	}
	if v := envRepo.Get("S3MULTIPART_BUCKET"); v != "" {
		cfg.Bucket = v
	}
	if v := envRepo.Get("S3MULTIPART_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	cfg.AccessKeyID = envRepo.Get("AWS_ACCESS_KEY_ID")
	cfg.SecretAccessKey = envRepo.Get("AWS_SECRET_ACCESS_KEY")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if c.PartRetries < 1 {
		return fmt.Errorf("partRetries must be at least 1")
	}
	switch c.SSE.Mode {
	case "", "none", "AES256", "aws:kms":
	default:
		return fmt.Errorf("unsupported sse mode: %s", c.SSE.Mode)
	}
	if c.SSE.Mode != "aws:kms" && c.SSE.KMSKeyID != "" {
		return fmt.Errorf("kmsKeyId requires sse mode aws:kms")
	}
	return nil
}
