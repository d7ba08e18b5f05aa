// Package approval implements the human-approval gate. Policy is an
// ordered rule list evaluated first-match-wins, and the default stance
// is deny: execution requires approval unless an explicit auto-approve
// rule matches.
package approval

import (
	"strings"

	"github.com/fyrsmithlabs/vaultd/internal/task"
)

// Verdict is a rule's decision about a matching task.
type Verdict string

const (
	// VerdictRequire holds the task for human confirmation.
	VerdictRequire Verdict = "require"

	// VerdictAuto lets the task execute without confirmation.
	VerdictAuto Verdict = "auto"
)

// Rule is one entry in the approval policy.
type Rule interface {
	// Name returns the rule identifier, recorded in the audit trail.
	Name() string

	// Match reports the rule's verdict and whether it applies to t.
	Match(t *task.Task) (Verdict, bool)
}

// Evaluation is the gate's decision for one task.
type Evaluation struct {
	// Require is true when execution must wait for human approval.
	Require bool

	// Rule names the first matching rule, or "default" when none matched.
	Rule string

	// Overridden is true when the approve-all override bypassed the
	// policy. Overridden evaluations are audited distinctly.
	Overridden bool
}

// Policy is an ordered approval rule list with an optional
// environment-level override.
type Policy struct {
	rules      []Rule
	approveAll bool
}

// NewPolicy builds a policy from rules in evaluation order.
func NewPolicy(rules ...Rule) *Policy {
	return &Policy{rules: rules}
}

// WithApproveAll enables the override that forces approval for every
// task. The gate is bypassed entirely; use only in trusted setups.
func (p *Policy) WithApproveAll(on bool) *Policy {
	p.approveAll = on
	return p
}

// Evaluate runs the rule list against a task. Pure: the task is not
// mutated and no rule may have side effects.
func (p *Policy) Evaluate(t *task.Task) Evaluation {
	if p.approveAll {
		return Evaluation{Require: false, Rule: "approve_all_override", Overridden: true}
	}
	for _, r := range p.rules {
		if verdict, ok := r.Match(t); ok {
			return Evaluation{Require: verdict == VerdictRequire, Rule: r.Name()}
		}
	}
	// Deny by default.
	return Evaluation{Require: true, Rule: "default"}
}

// funcRule adapts a closure to the Rule interface.
type funcRule struct {
	name  string
	match func(*task.Task) (Verdict, bool)
}

func (r funcRule) Name() string                       { return r.name }
func (r funcRule) Match(t *task.Task) (Verdict, bool) { return r.match(t) }

// SensitiveKeyword requires approval when the body mentions any of the
// given words.
func SensitiveKeyword(words ...string) Rule {
	return funcRule{
		name: "sensitive_keyword",
		match: func(t *task.Task) (Verdict, bool) {
			lower := strings.ToLower(t.Body)
			for _, w := range words {
				if w != "" && strings.Contains(lower, strings.ToLower(w)) {
					return VerdictRequire, true
				}
			}
			return "", false
		},
	}
}

// NewContact requires approval for tasks involving a counterpart the
// operator has not allowlisted. Tasks without contact metadata fall
// through to the remaining rules.
func NewContact(known ...string) Rule {
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[strings.ToLower(k)] = true
	}
	return funcRule{
		name: "new_contact",
		match: func(t *task.Task) (Verdict, bool) {
			if t.Contact == "" || set[strings.ToLower(t.Contact)] {
				return "", false
			}
			return VerdictRequire, true
		},
	}
}

// BatchSizeAbove requires approval for bulk operations touching more
// than n items.
func BatchSizeAbove(n int) Rule {
	return funcRule{
		name: "batch_size",
		match: func(t *task.Task) (Verdict, bool) {
			if t.BatchSize > n {
				return VerdictRequire, true
			}
			return "", false
		},
	}
}

// ActionHistory answers whether an action has previously succeeded on
// a platform. Backed by the done partition in production.
type ActionHistory interface {
	HasSucceeded(source, action string) bool
}

// FirstActionOnPlatform requires approval for the first action of a
// kind on a platform; later identical actions fall through to the
// remaining rules.
func FirstActionOnPlatform(history ActionHistory) Rule {
	return funcRule{
		name: "first_action_on_platform",
		match: func(t *task.Task) (Verdict, bool) {
			if t.Action == "" {
				return "", false
			}
			if !history.HasSucceeded(t.Source, t.Action) {
				return VerdictRequire, true
			}
			return "", false
		},
	}
}

// PersonalLowRisk auto-approves personal-domain tasks that only read
// or record information.
func PersonalLowRisk() Rule {
	return funcRule{
		name: "personal_low_risk",
		match: func(t *task.Task) (Verdict, bool) {
			if t.Domain != task.DomainPersonal {
				return "", false
			}
			if t.Intent == task.IntentQuestion || t.Intent == task.IntentUpdate {
				return VerdictAuto, true
			}
			return "", false
		},
	}
}

// AutoApproveSources auto-approves everything from trusted sources.
func AutoApproveSources(sources ...string) Rule {
	set := make(map[string]bool, len(sources))
	for _, s := range sources {
		set[s] = true
	}
	return funcRule{
		name: "auto_approve_source",
		match: func(t *task.Task) (Verdict, bool) {
			if set[t.Source] {
				return VerdictAuto, true
			}
			return "", false
		},
	}
}
