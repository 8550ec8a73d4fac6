package odata

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// DefaultNamespace is used when no explicit namespace is configured for the service.
const DefaultNamespace = "ODataService"

// DefaultMaxExpandDepth is the default maximum depth for nested $expand operations.
const DefaultMaxExpandDepth = 10

// ServiceConfig controls schema construction and request limits. Every
// field can be read from the environment with LoadServiceConfig.
type ServiceConfig struct {
	// Namespace is the schema namespace. Default: DefaultNamespace.
	Namespace string `env:"NAMESPACE" envDefault:"ODataService"`

	// ContainerName names the default entity container.
	// Default: the namespace followed by "Container".
	ContainerName string `env:"CONTAINER_NAME"`

	// StrictNavigation fails entity type lookups when a navigation property
	// has no consistent association instead of dropping the property.
	StrictNavigation bool `env:"STRICT_NAVIGATION"`

	// DistinctEmptyContainerKey caches the container looked up by the empty
	// name separately from the default container.
	DistinctEmptyContainerKey bool `env:"DISTINCT_EMPTY_CONTAINER_KEY"`

	// PageSize enables server-driven paging of collections. Zero disables paging.
	PageSize int `env:"PAGE_SIZE"`

	// MaxTop rejects larger $top values. Zero disables the limit.
	MaxTop int `env:"MAX_TOP"`

	// MaxExpandDepth limits the depth of $expand paths.
	// Default: DefaultMaxExpandDepth. If set to 0 or left unset, the default is used.
	MaxExpandDepth int `env:"MAX_EXPAND_DEPTH" envDefault:"10"`
}

// LoadServiceConfig reads a ServiceConfig from environment variables named
// prefix followed by the field's variable, for example ODATA_PAGE_SIZE for
// the prefix "ODATA_".
func LoadServiceConfig(prefix string) (ServiceConfig, error) {
	var cfg ServiceConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return ServiceConfig{}, fmt.Errorf("failed to load service config: %w", err)
	}
	if cfg.PageSize < 0 || cfg.MaxTop < 0 {
		return ServiceConfig{}, fmt.Errorf("failed to load service config: negative limits are not allowed")
	}
	return cfg, nil
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.MaxExpandDepth <= 0 {
		c.MaxExpandDepth = DefaultMaxExpandDepth
	}
	if c.PageSize < 0 {
		c.PageSize = 0
	}
	if c.MaxTop < 0 {
		c.MaxTop = 0
	}
	return c
}
