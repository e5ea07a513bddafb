// Package workflow implements the scale-adaptive workflow selector:
// it maps a scale level, trigger context, and top-K learnings to an
// ordered Plan of model.WorkflowStep values with ceremonies injected, and
// it holds the on-disk agent-profile catalog AgentRunner's cli backend
// consults to pick a role/prompt template per step.
package workflow

// AgentProfile describes how a family of work items should be executed:
// an ordered sequence of named stages, each assigned to an agent role and
// prompt template, with optional per-stage gates. It is not the
// WorkflowSelector's Plan output (model.Plan) — it is the supporting
// catalog a cli AgentRunner backend resolves a WorkflowStep against to
// decide which role and prompt to invoke.
type AgentProfile struct {
	Name        string
	Default     bool
	MatchLabels []string // story labels that auto-assign this profile
	MatchTypes  []string // story/epic kinds that auto-assign this profile
	Stages      []Stage
}

// Stage defines a single step in an agent profile's pipeline.
type Stage struct {
	Name           string // e.g. "implement", "test", "review"
	Role           string // agent role for this stage
	Tier           string // optional: force a complexity tier
	PromptTemplate string // which prompt template to use
	Gate           string // optional: validation command before advancing
	AutoAdvance    bool   // advance automatically on completion?
}

// StageIndex returns the index of a stage by name, or -1 if not found.
func (p *AgentProfile) StageIndex(name string) int {
	for i, s := range p.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// NextStage returns the stage after the given one, or nil if it's the last.
func (p *AgentProfile) NextStage(currentName string) *Stage {
	idx := p.StageIndex(currentName)
	if idx < 0 || idx >= len(p.Stages)-1 {
		return nil
	}
	return &p.Stages[idx+1]
}

// FirstStage returns the first stage, or nil if the profile has no stages.
func (p *AgentProfile) FirstStage() *Stage {
	if len(p.Stages) == 0 {
		return nil
	}
	return &p.Stages[0]
}

// LastStage returns the last stage, or nil if the profile has no stages.
func (p *AgentProfile) LastStage() *Stage {
	if len(p.Stages) == 0 {
		return nil
	}
	return &p.Stages[len(p.Stages)-1]
}

// MatchesWork reports whether the profile applies to a story/epic of the
// given kind carrying the given labels.
func (p *AgentProfile) MatchesWork(workKind string, labels []string) bool {
	for _, mt := range p.MatchTypes {
		if mt == workKind {
			return true
		}
	}

	labelSet := make(map[string]bool, len(labels))
	for _, l := range labels {
		labelSet[l] = true
	}
	for _, ml := range p.MatchLabels {
		if labelSet[ml] {
			return true
		}
	}

	return false
}

// ProfileCatalog holds all configured agent profiles and provides lookup,
// loaded once at startup from the YAML catalog named by config.Workflows.
type ProfileCatalog struct {
	profiles map[string]*AgentProfile
	defName  string // name of the default profile
}

// NewProfileCatalog builds a catalog from a slice of profiles.
func NewProfileCatalog(profiles []AgentProfile) *ProfileCatalog {
	c := &ProfileCatalog{
		profiles: make(map[string]*AgentProfile, len(profiles)),
	}
	for i := range profiles {
		p := &profiles[i]
		c.profiles[p.Name] = p
		if p.Default {
			c.defName = p.Name
		}
	}
	return c
}

// Get returns a profile by name, or nil if not found.
func (c *ProfileCatalog) Get(name string) *AgentProfile {
	return c.profiles[name]
}

// Default returns the default profile, or nil if none is marked default.
func (c *ProfileCatalog) Default() *AgentProfile {
	if c.defName == "" {
		return nil
	}
	return c.profiles[c.defName]
}

// Resolve finds the best profile for a story/epic. Tries match rules
// first, then falls back to the default.
func (c *ProfileCatalog) Resolve(workKind string, labels []string) *AgentProfile {
	for _, p := range c.profiles {
		if p.MatchesWork(workKind, labels) {
			return p
		}
	}
	return c.Default()
}

// Names returns all profile names.
func (c *ProfileCatalog) Names() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	return names
}
