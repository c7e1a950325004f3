package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// LoadProcess binds Process from the environment, following the teacher's
// config.Load two-step shape (defaults, then overlay) but delegating the
// overlay itself to caarlos0/env instead of hand-written field-by-field
// parsing — the struct tags in Process already declare every default.
func LoadProcess() (*Process, error) {
	cfg := &Process{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
