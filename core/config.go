package core

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultPlanCacheSize = 500
	defaultHookTimeout   = 5 * time.Second
)

// Configuration for the PathQL engine
type Config struct {
	// When set to true it logs every rendered statement and its parameter
	// names at debug level
	Debug bool `mapstructure:"debug" json:"debug" yaml:"debug" jsonschema:"title=Debug,default=false"`

	// When set to true the bound variable values are logged alongside the
	// statement. Only has an effect with Debug enabled
	LogVars bool `mapstructure:"log_vars" json:"log_vars" yaml:"log_vars" jsonschema:"title=Log Variables,default=false"`

	// Run the child queries of a query tree node concurrently. The
	// connection must then be safe for concurrent use, eg. a pool
	ParallelFetch bool `mapstructure:"parallel_fetch" json:"parallel_fetch" yaml:"parallel_fetch" jsonschema:"title=Parallel Fetch,default=false"`

	// Number of compiled statements to cache. Zero uses the default of 500
	// and -1 disables the cache
	PlanCacheSize int `mapstructure:"plan_cache_size" json:"plan_cache_size" yaml:"plan_cache_size" jsonschema:"title=Plan Cache Size,default=500" validate:"gte=-1"`

	// Directory hook files are resolved against
	HooksPath string `mapstructure:"hooks_path" json:"hooks_path" yaml:"hooks_path" jsonschema:"title=Hooks Path"`

	// Maximum run time of a single hook call. Zero uses the default of 5s
	HookTimeout time.Duration `mapstructure:"hook_timeout" json:"hook_timeout" yaml:"hook_timeout" jsonschema:"title=Hook Timeout" validate:"gte=0"`

	// The SQL dialect to render, only postgres is supported
	DBType string `mapstructure:"db_type" json:"db_type" yaml:"db_type" jsonschema:"title=Database Type,enum=postgres,enum=postgresql" validate:"omitempty,oneof=postgres postgresql"`
}

var validate = validator.New()

// Validate checks the configuration values
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) planCacheSize() int {
	if c.PlanCacheSize == 0 {
		return defaultPlanCacheSize
	}
	return c.PlanCacheSize
}

func (c *Config) hookTimeout() time.Duration {
	if c.HookTimeout == 0 {
		return defaultHookTimeout
	}
	return c.HookTimeout
}
