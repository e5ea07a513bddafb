package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of the agent-profile catalog: YAML
// remains the on-disk format per the design notes even though the core
// only ever consumes validated, typed AgentProfile values afterward.
type catalogFile struct {
	Profiles []catalogProfile `yaml:"profiles"`
}

type catalogProfile struct {
	Name        string         `yaml:"name"`
	Default     bool           `yaml:"default"`
	MatchLabels []string       `yaml:"match_labels"`
	MatchTypes  []string       `yaml:"match_types"`
	Stages      []catalogStage `yaml:"stages"`
}

type catalogStage struct {
	Name           string `yaml:"name"`
	Role           string `yaml:"role"`
	Tier           string `yaml:"tier"`
	PromptTemplate string `yaml:"prompt_template"`
	Gate           string `yaml:"gate"`
	AutoAdvance    bool   `yaml:"auto_advance"`
}

// LoadCatalog reads the YAML agent-profile catalog named by
// config.Config.Workflows, validates it, and returns the typed,
// ready-to-use ProfileCatalog. A catalog with zero profiles, a profile with
// no stages, or more than one profile marked default is rejected — the
// core consumes only validated, typed values, never the raw YAML.
func LoadCatalog(path string) (*ProfileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow catalog %s: %w", path, err)
	}

	var raw catalogFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workflow catalog %s: %w", path, err)
	}
	if len(raw.Profiles) == 0 {
		return nil, fmt.Errorf("workflow catalog %s declares no profiles", path)
	}

	profiles := make([]AgentProfile, 0, len(raw.Profiles))
	defaultCount := 0
	seen := make(map[string]bool, len(raw.Profiles))
	for _, p := range raw.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("workflow catalog %s: profile with empty name", path)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("workflow catalog %s: duplicate profile name %q", path, p.Name)
		}
		seen[p.Name] = true
		if len(p.Stages) == 0 {
			return nil, fmt.Errorf("workflow catalog %s: profile %q declares no stages", path, p.Name)
		}
		if p.Default {
			defaultCount++
		}

		stages := make([]Stage, 0, len(p.Stages))
		for _, s := range p.Stages {
			stages = append(stages, Stage{
				Name: s.Name, Role: s.Role, Tier: s.Tier,
				PromptTemplate: s.PromptTemplate, Gate: s.Gate, AutoAdvance: s.AutoAdvance,
			})
		}
		profiles = append(profiles, AgentProfile{
			Name: p.Name, Default: p.Default,
			MatchLabels: p.MatchLabels, MatchTypes: p.MatchTypes, Stages: stages,
		})
	}
	if defaultCount > 1 {
		return nil, fmt.Errorf("workflow catalog %s: more than one profile marked default", path)
	}

	return NewProfileCatalog(profiles), nil
}
