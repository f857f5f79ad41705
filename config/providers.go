package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// KeyAlias names one credential the rotator can cycle through, resolved
// from an environment variable at load time (never from the file itself).
type KeyAlias struct {
	Alias string `yaml:"alias"`
	Env   string `yaml:"env"`
}

// ProviderProfile is the declarative shape of one upstream provider:
// which family it belongs to, how to reach it, and which dialect it
// speaks. Decoding this file is the CLI entrypoint's job (per spec §1,
// config file parsing syntax is an external collaborator); this struct
// is the already-decoded target.
type ProviderProfile struct {
	ID                     string     `yaml:"id"`
	FamilyID               string     `yaml:"familyId"`
	BaseURL                string     `yaml:"baseUrl"`
	Dialect                string     `yaml:"dialect"` // openai | anthropic-compatible | gemini
	AuthMode               string     `yaml:"authMode"` // apikey | oauth | pow | cookie | tokenfile
	TimeoutMs              int        `yaml:"timeoutMs"`
	Models                 []string   `yaml:"models"`
	KeyAliases             []KeyAlias `yaml:"keyAliases"`
	CompatibilityProfileID string     `yaml:"compatibilityProfileId"`
}

// LoadProviderProfiles decodes the Provider Profile file at path into a
// map keyed by ProviderProfile.ID. An empty path returns an empty map —
// the gateway can start with zero configured providers.
func LoadProviderProfiles(path string) (map[string]ProviderProfile, error) {
	if path == "" {
		return map[string]ProviderProfile{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var profiles []ProviderProfile
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return nil, err
	}

	out := make(map[string]ProviderProfile, len(profiles))
	for _, p := range profiles {
		out[p.ID] = p
	}
	return out, nil
}
