package bus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the declarative routing topology shared by every service.
// Each process builds only its own bus from it, but the loop check runs
// over the whole topology so a bad relay chain is rejected before any
// process starts.
type Config struct {
	Buses []BusConfig `yaml:"buses"`
}

type BusConfig struct {
	Name  string       `yaml:"name"`
	Rules []RuleConfig `yaml:"rules"`
}

type RuleConfig struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description,omitempty"`
	EventPattern Pattern        `yaml:"eventPattern"`
	Targets      []TargetConfig `yaml:"targets"`
}

// TargetConfig names exactly one target kind. DeadLetter is the named
// sink for failed deliveries; when empty the bus default sink is used.
type TargetConfig struct {
	Handler    string `yaml:"handler,omitempty"`
	Bus        string `yaml:"bus,omitempty"`
	Log        bool   `yaml:"log,omitempty"`
	Archive    bool   `yaml:"archive,omitempty"`
	DeadLetter string `yaml:"deadLetter,omitempty"`
}

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read rules config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse rules config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	seen := map[string]bool{}
	for _, b := range c.Buses {
		if b.Name == "" {
			return &RoutingError{Rule: "(bus)", Reason: "bus name is required"}
		}
		if seen[b.Name] {
			return &RoutingError{Rule: "(bus)", Reason: fmt.Sprintf("duplicate bus %q", b.Name)}
		}
		seen[b.Name] = true

		for _, r := range b.Rules {
			if r.Name == "" {
				return &RoutingError{Rule: "(unnamed)", Reason: fmt.Sprintf("rule on bus %q has no name", b.Name)}
			}
			if err := r.EventPattern.Validate(); err != nil {
				return &RoutingError{Rule: r.Name, Reason: err.Error()}
			}
			if len(r.Targets) == 0 {
				return &RoutingError{Rule: r.Name, Reason: "at least one target is required"}
			}
			for _, t := range r.Targets {
				if err := t.validate(); err != nil {
					return &RoutingError{Rule: r.Name, Reason: err.Error()}
				}
			}
		}
	}
	return c.checkRelayLoops()
}

func (t TargetConfig) validate() error {
	kinds := 0
	if t.Handler != "" {
		kinds++
	}
	if t.Bus != "" {
		kinds++
	}
	if t.Log {
		kinds++
	}
	if t.Archive {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("target must name exactly one of handler, bus, log, archive")
	}
	return nil
}

type relayEdge struct {
	from    string
	to      string
	pattern Pattern
	rule    string
}

// checkRelayLoops rejects any topology where relay rules can carry an
// envelope back onto its originating bus. Relays preserve (source,
// detail-type), so following edges while intersecting patterns is exact.
func (c Config) checkRelayLoops() error {
	var edges []relayEdge
	for _, b := range c.Buses {
		for _, r := range b.Rules {
			for _, t := range r.Targets {
				if t.Bus == "" {
					continue
				}
				if t.Bus == b.Name {
					return &RoutingError{Rule: r.Name, Reason: "relay target forwards back onto its own bus"}
				}
				edges = append(edges, relayEdge{from: b.Name, to: t.Bus, pattern: r.EventPattern, rule: r.Name})
			}
		}
	}

	for _, start := range edges {
		visited := map[string]bool{start.from: true}
		if err := walkRelays(edges, start, start.from, start.pattern, visited); err != nil {
			return err
		}
	}
	return nil
}

func walkRelays(edges []relayEdge, current relayEdge, origin string, pattern Pattern, visited map[string]bool) error {
	if current.to == origin {
		return &RoutingError{
			Rule:   current.rule,
			Reason: fmt.Sprintf("relay chain returns matching events to bus %q", origin),
		}
	}
	if visited[current.to] {
		return nil
	}
	visited[current.to] = true
	defer delete(visited, current.to)

	for _, next := range edges {
		if next.from != current.to {
			continue
		}
		narrowed, overlaps := pattern.Intersect(next.pattern)
		if !overlaps {
			continue
		}
		if err := walkRelays(edges, next, origin, narrowed, visited); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) busConfig(name string) (BusConfig, bool) {
	for _, b := range c.Buses {
		if b.Name == name {
			return b, true
		}
	}
	return BusConfig{}, false
}
