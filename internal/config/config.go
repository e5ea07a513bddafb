// Package config loads and validates the GAO-Dev TOML configuration.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s"
// or "24h", used for every timing knob in this config.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root GAO-Dev configuration.
type Config struct {
	General      General      `toml:"general"`
	Cadence      Cadence      `toml:"cadence"`
	Safety       Safety       `toml:"safety"`
	AgentRunner  AgentRunner  `toml:"agent_runner"`
	Orchestrator Orchestrator `toml:"orchestrator"`
	Workflows    string       `toml:"workflows"` // path to the YAML workflow catalog
}

// General holds process-wide settings.
type General struct {
	Project   string `toml:"project"`
	Workspace string `toml:"workspace"`
	StateDB   string `toml:"state_db"`
	LockFile  string `toml:"lock_file"`
	LogLevel  string `toml:"log_level"`
	Dev       bool   `toml:"dev"`
}

// Cadence holds the scale-4 standup interval setting. No component reads
// it: internal/trigger applies a fixed 24h standup ceiling, and
// WorkflowSelector's "process" adjustment only marks standup steps with
// standup_interval_halved metadata.
type Cadence struct {
	StandupInterval Duration `toml:"standup_interval"`
}

// Safety mirrors the SafetyGuard limits; defaults match the standard
// ten-ceremony epic cap but are configurable for testing with tighter
// windows. CeremonyTimeout and CircuitOpenThreshold are not read by
// SafetyGuard: the ceremony deadline comes from AgentRunner.CeremonyDeadline
// and the breaker opens at model.CircuitOpenThreshold.
type Safety struct {
	MaxCeremoniesPerEpic  int      `toml:"max_ceremonies_per_epic"`
	PlanningCooldown      Duration `toml:"planning_cooldown"`
	StandupCooldown       Duration `toml:"standup_cooldown"`
	RetrospectiveCooldown Duration `toml:"retrospective_cooldown"`
	CeremonyTimeout       Duration `toml:"ceremony_timeout"`
	CircuitOpenThreshold  int      `toml:"circuit_open_threshold"`
}

// AgentRunner selects and configures the external agent execution backend.
type AgentRunner struct {
	Backend          string   `toml:"backend"` // "cli" or "docker"
	Agent            string   `toml:"agent"`   // openclaw agent profile name, e.g. "dev"
	Command          string   `toml:"command"`
	Args             []string `toml:"args"`
	DockerImage      string   `toml:"docker_image"`
	StepDeadline     Duration `toml:"step_deadline"`
	CeremonyDeadline Duration `toml:"ceremony_deadline"`
	AbandonGrace     Duration `toml:"abandon_grace"`
}

// Orchestrator selects the plan-execution backend.
type Orchestrator struct {
	Backend           string `toml:"backend"` // "inline" or "temporal"
	TemporalHostPort  string `toml:"temporal_host_port"`
	TemporalTaskQueue string `toml:"temporal_task_queue"`
}

// Default returns a Config populated with reasonable defaults: a ten-ceremony epic cap, 24h planning and retrospective cooldowns, and a 12h standup cooldown.
func Default() *Config {
	return &Config{
		General: General{
			StateDB:  ".gao-dev/state.db",
			LockFile: ".gao-dev/lock",
			LogLevel: "info",
		},
		Cadence: Cadence{StandupInterval: Duration{24 * time.Hour}},
		Safety: Safety{
			MaxCeremoniesPerEpic:  10,
			PlanningCooldown:      Duration{24 * time.Hour},
			StandupCooldown:       Duration{12 * time.Hour},
			RetrospectiveCooldown: Duration{24 * time.Hour},
			CeremonyTimeout:       Duration{10 * time.Minute},
			CircuitOpenThreshold:  3,
		},
		AgentRunner: AgentRunner{
			Backend:          "cli",
			Agent:            "dev",
			StepDeadline:     Duration{30 * time.Minute},
			CeremonyDeadline: Duration{10 * time.Minute},
			AbandonGrace:     Duration{30 * time.Second},
		},
		Orchestrator: Orchestrator{
			Backend:           "inline",
			TemporalHostPort:  "127.0.0.1:7233",
			TemporalTaskQueue: "gao-dev-task-queue",
		},
		Workflows: "docs/workflows.yaml",
	}
}

// Load reads and decodes a TOML config file, filling unset fields from
// Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Clone returns a deep-enough copy for the RWMutexManager pattern: every
// field here is a value or a freshly-allocated slice, so a shallow struct
// copy plus slice re-slicing is sufficient.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.AgentRunner.Args != nil {
		clone.AgentRunner.Args = append([]string(nil), c.AgentRunner.Args...)
	}
	return &clone
}
