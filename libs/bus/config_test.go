package bus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeRules(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeRules(t, `
buses:
  - name: subscriptions
    rules:
      - name: SubscriptionToStockRule
        eventPattern:
          source: [app.subscriptions]
          detailType: [SubscriptionCreated]
        targets:
          - bus: stock
            deadLetter: subscriptions-to-stock-dlq
      - name: LogAllRule
        eventPattern:
          source: [app.subscriptions, app.payments]
        targets:
          - log: true
  - name: stock
    rules:
      - name: SubscriptionCreatedRule
        eventPattern:
          source: [app.subscriptions]
          detailType: [SubscriptionCreated]
        targets:
          - handler: allocate-stock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Buses) != 2 {
		t.Fatalf("expected 2 buses, got %d", len(cfg.Buses))
	}
	rule := cfg.Buses[0].Rules[0]
	if rule.Name != "SubscriptionToStockRule" {
		t.Fatalf("unexpected rule name %q", rule.Name)
	}
	if rule.Targets[0].Bus != "stock" || rule.Targets[0].DeadLetter != "subscriptions-to-stock-dlq" {
		t.Fatalf("relay target not parsed: %+v", rule.Targets[0])
	}
}

func TestShippedTopologyIsValid(t *testing.T) {
	cfg, err := LoadConfig("../../deploy/rules.yaml")
	if err != nil {
		t.Fatalf("shipped topology invalid: %v", err)
	}
	for _, name := range []string{"subscriptions", "payments", "stock"} {
		if _, ok := cfg.busConfig(name); !ok {
			t.Fatalf("shipped topology missing bus %q", name)
		}
	}
}

func TestConfigRejectsRelayLoop(t *testing.T) {
	cfg := Config{Buses: []BusConfig{
		{Name: "a", Rules: []RuleConfig{{
			Name:         "AToB",
			EventPattern: Pattern{Source: []string{"app.a"}},
			Targets:      []TargetConfig{{Bus: "b"}},
		}}},
		{Name: "b", Rules: []RuleConfig{{
			Name:         "BToA",
			EventPattern: Pattern{Source: []string{"app.a", "app.b"}},
			Targets:      []TargetConfig{{Bus: "a"}},
		}}},
	}}
	err := cfg.Validate()
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("expected RoutingError for relay loop, got %v", err)
	}
}

func TestConfigAllowsDisjointRelayChains(t *testing.T) {
	// a relays app.a events to b; b relays app.b events to a. No single
	// envelope can traverse both edges, so there is no loop.
	cfg := Config{Buses: []BusConfig{
		{Name: "a", Rules: []RuleConfig{{
			Name:         "AToB",
			EventPattern: Pattern{Source: []string{"app.a"}},
			Targets:      []TargetConfig{{Bus: "b"}},
		}}},
		{Name: "b", Rules: []RuleConfig{{
			Name:         "BToA",
			EventPattern: Pattern{Source: []string{"app.b"}},
			Targets:      []TargetConfig{{Bus: "a"}},
		}}},
	}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disjoint relay chains rejected: %v", err)
	}
}

func TestConfigRejectsTransitiveLoop(t *testing.T) {
	pattern := Pattern{Source: []string{"app.a"}}
	cfg := Config{Buses: []BusConfig{
		{Name: "a", Rules: []RuleConfig{{Name: "AToB", EventPattern: pattern, Targets: []TargetConfig{{Bus: "b"}}}}},
		{Name: "b", Rules: []RuleConfig{{Name: "BToC", EventPattern: pattern, Targets: []TargetConfig{{Bus: "c"}}}}},
		{Name: "c", Rules: []RuleConfig{{Name: "CToA", EventPattern: pattern, Targets: []TargetConfig{{Bus: "a"}}}}},
	}}
	var re *RoutingError
	if !errors.As(cfg.Validate(), &re) {
		t.Fatal("expected RoutingError for three-hop relay loop")
	}
}

func TestConfigRejectsDirectSelfRelay(t *testing.T) {
	cfg := Config{Buses: []BusConfig{
		{Name: "a", Rules: []RuleConfig{{
			Name:         "SelfRelay",
			EventPattern: Pattern{Source: []string{"app.a"}},
			Targets:      []TargetConfig{{Bus: "a"}},
		}}},
	}}
	var re *RoutingError
	if !errors.As(cfg.Validate(), &re) {
		t.Fatal("expected RoutingError for self-relay")
	}
}

func TestTargetConfigRequiresExactlyOneKind(t *testing.T) {
	base := RuleConfig{
		Name:         "Rule",
		EventPattern: Pattern{Source: []string{"app.a"}},
	}
	for _, targets := range [][]TargetConfig{
		{{}},
		{{Handler: "h", Bus: "b"}},
		{{Log: true, Archive: true}},
	} {
		rc := base
		rc.Targets = targets
		cfg := Config{Buses: []BusConfig{{Name: "a", Rules: []RuleConfig{rc}}}}
		if cfg.Validate() == nil {
			t.Fatalf("expected validation error for targets %+v", targets)
		}
	}
}

func TestBuildWiresHandlersAndRelays(t *testing.T) {
	cfg := Config{Buses: []BusConfig{
		{Name: "payments", Rules: []RuleConfig{
			{
				Name:         "SubscriptionCreatedRule",
				EventPattern: Pattern{Source: []string{"app.subscriptions"}, DetailType: []string{"SubscriptionCreated"}},
				Targets:      []TargetConfig{{Handler: "create-payment"}},
			},
			{
				Name:         "PaymentsToStockRule",
				EventPattern: Pattern{Source: []string{"app.payments"}, DetailType: []string{"PaymentCancelled"}},
				Targets:      []TargetConfig{{Bus: "stock"}},
			},
		}},
		{Name: "stock"},
	}}

	handled := &recorder{}
	remote := &stubRemote{name: "stock"}
	b, err := Build(cfg, "payments", BuildOptions{
		Handlers: map[string]Deliverer{"create-payment": handled},
		Remote: func(name string) (Publisher, error) {
			if name != "stock" {
				t.Fatalf("unexpected remote bus %q", name)
			}
			return remote, nil
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := b.Publish(context.Background(), envelope("app.subscriptions", "SubscriptionCreated", "123")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := b.Publish(context.Background(), envelope("app.payments", "PaymentCancelled", "123")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	drain(t, b)

	if handled.count() != 1 {
		t.Fatalf("handler target delivered %d envelopes, want 1", handled.count())
	}
	if len(remote.got) != 1 {
		t.Fatalf("relay target delivered %d envelopes, want 1", len(remote.got))
	}
}

func TestBuildRejectsUnknownHandler(t *testing.T) {
	cfg := Config{Buses: []BusConfig{{Name: "stock", Rules: []RuleConfig{{
		Name:         "Rule",
		EventPattern: Pattern{Source: []string{"app.subscriptions"}},
		Targets:      []TargetConfig{{Handler: "missing"}},
	}}}}}
	_, err := Build(cfg, "stock", BuildOptions{Logger: testLogger()})
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("expected RoutingError, got %v", err)
	}
}
