package bus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/deadletter"
)

// BuildOptions supplies the concrete collaborators a declarative rule
// set binds to in one process: named local handlers, a factory for
// remote bus publishers, and an optional archive deliverer.
type BuildOptions struct {
	Handlers     map[string]Deliverer
	Remote       func(busName string) (Publisher, error)
	Archive      Deliverer
	RelayTimeout time.Duration
	DeadLetters  *deadletter.Registry
	Logger       *slog.Logger
}

// Build validates the full topology, then constructs the named bus with
// its rules wired to real targets.
func Build(cfg Config, busName string, opts BuildOptions) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bc, ok := cfg.busConfig(busName)
	if !ok {
		return nil, &RoutingError{Rule: "(bus)", Reason: fmt.Sprintf("bus %q not present in config", busName)}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DeadLetters == nil {
		opts.DeadLetters = deadletter.NewRegistry(0)
	}

	b := New(busName, opts.Logger)
	for _, rc := range bc.Rules {
		rule := Rule{Name: rc.Name, Pattern: rc.EventPattern}
		for _, tc := range rc.Targets {
			target, err := buildTarget(busName, rc, tc, opts)
			if err != nil {
				return nil, err
			}
			rule.Targets = append(rule.Targets, target)
		}
		if err := b.RegisterRule(rule); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func buildTarget(busName string, rc RuleConfig, tc TargetConfig, opts BuildOptions) (Target, error) {
	sinkName := tc.DeadLetter
	if sinkName == "" {
		sinkName = busName + "-dlq"
	}
	sink := deadletter.NewLogSink(opts.DeadLetters.Store(sinkName), opts.Logger)

	switch {
	case tc.Handler != "":
		d, ok := opts.Handlers[tc.Handler]
		if !ok {
			return Target{}, &RoutingError{Rule: rc.Name, Reason: fmt.Sprintf("unknown handler %q", tc.Handler)}
		}
		return Target{Name: tc.Handler, Deliverer: d, DeadLetter: sink}, nil

	case tc.Bus != "":
		if opts.Remote == nil {
			return Target{}, &RoutingError{Rule: rc.Name, Reason: "relay target with no remote publisher factory"}
		}
		remote, err := opts.Remote(tc.Bus)
		if err != nil {
			return Target{}, &RoutingError{Rule: rc.Name, Reason: fmt.Sprintf("remote bus %q: %v", tc.Bus, err)}
		}
		return Target{
			Name:       busName + "-to-" + tc.Bus,
			Deliverer:  NewRelay(remote, opts.RelayTimeout),
			DeadLetter: sink,
		}, nil

	case tc.Log:
		return Target{Name: "event-log", Deliverer: NewEventLog(opts.Logger), DeadLetter: sink}, nil

	case tc.Archive:
		if opts.Archive == nil {
			return Target{}, &RoutingError{Rule: rc.Name, Reason: "archive target with no archive deliverer"}
		}
		return Target{Name: "event-archive", Deliverer: opts.Archive, DeadLetter: sink}, nil
	}
	return Target{}, &RoutingError{Rule: rc.Name, Reason: "target names no kind"}
}
