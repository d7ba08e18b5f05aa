// Package classify assigns domain, intent, and priority to incoming
// tasks. Classification is a pure function over a rule table so policy
// changes never touch the orchestration code.
package classify

import (
	"strings"

	"github.com/fyrsmithlabs/vaultd/internal/task"
)

// Rules is the classification policy table. All fields carry koanf
// tags so deployments can override the defaults from configuration.
type Rules struct {
	// PersonalSources map directly to the personal domain.
	PersonalSources []string `koanf:"personal_sources"`

	// BusinessSources map directly to the business domain.
	BusinessSources []string `koanf:"business_sources"`

	// BusinessKeywords break the tie for ambiguous sources. Content
	// matching any keyword classifies as business.
	BusinessKeywords []string `koanf:"business_keywords"`

	// PostKeywords, RequestKeywords, and QuestionKeywords derive the
	// intent, checked in that order. Unmatched content is an update.
	PostKeywords     []string `koanf:"post_keywords"`
	RequestKeywords  []string `koanf:"request_keywords"`
	QuestionKeywords []string `koanf:"question_keywords"`

	// UrgentKeywords escalate priority to high.
	UrgentKeywords []string `koanf:"urgent_keywords"`
}

// DefaultRules returns the stock policy. gmail is deliberately
// ambiguous: personal mail and business requests arrive on the same
// channel, so content decides.
func DefaultRules() Rules {
	return Rules{
		PersonalSources:  []string{"whatsapp"},
		BusinessSources:  []string{"linkedin", "facebook", "instagram", "twitter"},
		BusinessKeywords: []string{"post", "launch", "client", "invoice", "campaign", "linkedin", "twitter", "instagram", "facebook", "revenue", "meeting"},
		PostKeywords:     []string{"post", "share", "tweet", "publish"},
		RequestKeywords:  []string{"please", "can you", "could you", "need you to", "request", "todo", "task"},
		QuestionKeywords: []string{"?", "how ", "what ", "when ", "where ", "why "},
		UrgentKeywords:   []string{"urgent", "asap", "immediately", "right away"},
	}
}

// Result is a classification outcome.
type Result struct {
	Domain   task.Domain
	Intent   task.Intent
	Priority task.Priority
}

// Classifier evaluates the rule table. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	rules    Rules
	personal map[string]bool
	business map[string]bool
}

// New builds a classifier from a rule table.
func New(rules Rules) *Classifier {
	return &Classifier{
		rules:    rules,
		personal: toSet(rules.PersonalSources),
		business: toSet(rules.BusinessSources),
	}
}

// Classify maps a source and raw content to domain, intent, and
// priority. Deterministic and side-effect-free.
func (c *Classifier) Classify(source, content string) Result {
	lower := strings.ToLower(content)

	res := Result{
		Domain:   c.domain(source, lower),
		Intent:   c.intent(lower),
		Priority: task.PriorityLow,
	}

	switch {
	case containsAny(lower, c.rules.UrgentKeywords):
		res.Priority = task.PriorityHigh
	case res.Intent == task.IntentPost || res.Intent == task.IntentRequest:
		res.Priority = task.PriorityMedium
	}
	return res
}

func (c *Classifier) domain(source, lower string) task.Domain {
	switch {
	case c.personal[source]:
		return task.DomainPersonal
	case c.business[source]:
		return task.DomainBusiness
	case containsAny(lower, c.rules.BusinessKeywords):
		return task.DomainBusiness
	default:
		// Ambiguous source, no business signal: treat as personal so
		// nothing business-facing executes without a keyword match.
		return task.DomainPersonal
	}
}

func (c *Classifier) intent(lower string) task.Intent {
	switch {
	case containsAny(lower, c.rules.PostKeywords):
		return task.IntentPost
	case containsAny(lower, c.rules.RequestKeywords):
		return task.IntentRequest
	case containsAny(lower, c.rules.QuestionKeywords):
		return task.IntentQuestion
	default:
		return task.IntentUpdate
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
