package fedicrawl

import (
	"encoding/json"
	"os"
)

// RedisConfig holds optional settings for mirroring the published list to Redis.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// TTLSeconds is how long the mirrored key/set survive; should exceed the
	// list-generation cadence so a reader never sees a gap.
	TTLSeconds int `json:"ttl_seconds"`
}

// S3Config holds optional settings for mirroring the published list to S3.
type S3Config struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
	Region string `json:"region"`
}

// Config is the crawler's top-level, file-loadable configuration. Every field
// is zero-value-safe: an absent config file still yields a working orchestrator.
type Config struct {
	// RegistryPath is the SQLite database file. Defaults to minoru-fediverse-crawler.db.
	RegistryPath string `json:"registry_path"`
	// ListOutputDir is where instances.json / instances.json.gz are published. Defaults to ".".
	ListOutputDir string `json:"list_output_dir"`
	// MinWorkers / MaxWorkers bound the elastic checker pool. Default 1 / 128.
	MinWorkers int `json:"min_workers"`
	MaxWorkers int `json:"max_workers"`

	// Redis, if Address is non-empty, enables the Redis mirror.
	Redis RedisConfig `json:"redis"`
	// S3, if Bucket is non-empty, enables the S3 mirror.
	S3 S3Config `json:"s3"`
	// AdmissionPolicyExpr, if non-empty, is a CEL expression gating peer/redirect admission.
	AdmissionPolicyExpr string `json:"admission_policy_expr"`
}

// WithDefaults returns a copy of c with zero-value fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.RegistryPath == "" {
		c.RegistryPath = "minoru-fediverse-crawler.db"
	}
	if c.ListOutputDir == "" {
		c.ListOutputDir = "."
	}
	if c.MinWorkers == 0 {
		c.MinWorkers = 1
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = 128
	}
	if c.Redis.TTLSeconds == 0 {
		c.Redis.TTLSeconds = 24 * 60 * 60
	}
	return c
}

// LoadConfig reads a JSON configuration file and applies defaults to unset fields.
// A missing file is not an error; it returns the zero Config with defaults applied.
func LoadConfig(filename string) (Config, error) {
	if filename == "" {
		return Config{}.WithDefaults(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}.WithDefaults(), nil
		}
		return Config{}, err
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c.WithDefaults(), nil
}
