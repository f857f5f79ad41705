package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// TargetDefinition names one (providerId, modelId, keyAlias) combination
// a pool can dispatch to, with its weight for weighted selection.
type TargetDefinition struct {
	ProviderID string `yaml:"providerId"`
	ModelID    string `yaml:"modelId"`
	KeyAlias   string `yaml:"keyAlias"`
	Weight     int    `yaml:"weight"`
}

// PoolDefinition is an ordered set of targets sharing a selection
// strategy; a Route tries its pools in order (primary, then backup).
type PoolDefinition struct {
	Name     string             `yaml:"name"`
	Strategy string             `yaml:"strategy"` // round_robin | weighted | fastest_ema | least_loaded
	Targets  []TargetDefinition `yaml:"targets"`
}

// RouteDefinition is the declarative shape of one routing rule: a model
// pattern plus optional header/metadata conditions, matched against the
// ordered pool list.
type RouteDefinition struct {
	ID         string            `yaml:"id"`
	ModelRegex string            `yaml:"modelRegex"`
	Headers    map[string]string `yaml:"headers"`
	Default    bool              `yaml:"default"`
	Pools      []PoolDefinition  `yaml:"pools"`
}

// LoadRouteDefinitions decodes the Route Definition file at path. An
// empty path returns a nil slice — the caller decides whether an empty
// route table (no routes at all, besides a synthesized fallback) is
// acceptable.
func LoadRouteDefinitions(path string) ([]RouteDefinition, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var routes []RouteDefinition
	if err := yaml.Unmarshal(raw, &routes); err != nil {
		return nil, err
	}
	return routes, nil
}
