package bus

import (
	"fmt"

	"github.com/md-rashed-zaman/eventfanout/libs/events"
)

// Pattern is the predicate a rule applies to envelopes. An empty field
// is a wildcard; a populated field matches when the envelope value is
// one of its members.
type Pattern struct {
	Source     []string `yaml:"source" json:"source"`
	DetailType []string `yaml:"detailType" json:"detailType"`
	Account    []string `yaml:"account,omitempty" json:"account,omitempty"`
}

func (p Pattern) Validate() error {
	if len(p.Source) == 0 && len(p.DetailType) == 0 && len(p.Account) == 0 {
		return fmt.Errorf("pattern must constrain at least one of source, detailType, account")
	}
	return nil
}

func (p Pattern) Matches(e events.Envelope) bool {
	if !memberOrWildcard(p.Source, e.Source) {
		return false
	}
	if !memberOrWildcard(p.DetailType, e.DetailType) {
		return false
	}
	if !memberOrWildcard(p.Account, e.Account) {
		return false
	}
	return true
}

// Intersect narrows two patterns to the envelopes both match. The second
// return is false when no envelope can match both. Used by the loop check
// to follow an event through chained relay rules.
func (p Pattern) Intersect(q Pattern) (Pattern, bool) {
	source, ok := intersect(p.Source, q.Source)
	if !ok {
		return Pattern{}, false
	}
	detailType, ok := intersect(p.DetailType, q.DetailType)
	if !ok {
		return Pattern{}, false
	}
	account, ok := intersect(p.Account, q.Account)
	if !ok {
		return Pattern{}, false
	}
	return Pattern{Source: source, DetailType: detailType, Account: account}, true
}

func memberOrWildcard(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// intersect treats nil/empty as the universal set.
func intersect(a, b []string) ([]string, bool) {
	if len(a) == 0 {
		return b, true
	}
	if len(b) == 0 {
		return a, true
	}
	var out []string
	for _, v := range a {
		for _, w := range b {
			if v == w {
				out = append(out, v)
				break
			}
		}
	}
	return out, len(out) > 0
}
