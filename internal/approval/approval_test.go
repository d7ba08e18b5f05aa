package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/vaultd/internal/task"
)

type fakeHistory map[string]bool

func (h fakeHistory) HasSucceeded(source, action string) bool {
	return h[source+"/"+action]
}

func TestDenyByDefault(t *testing.T) {
	p := NewPolicy()
	ev := p.Evaluate(&task.Task{Source: "gmail"})
	assert.True(t, ev.Require)
	assert.Equal(t, "default", ev.Rule)
	assert.False(t, ev.Overridden)
}

func TestFirstMatchWins(t *testing.T) {
	p := NewPolicy(
		SensitiveKeyword("payment"),
		AutoApproveSources("gmail"),
	)

	// Sensitive keyword matches first, even for an auto-approved source.
	ev := p.Evaluate(&task.Task{Source: "gmail", Body: "send the payment today"})
	assert.True(t, ev.Require)
	assert.Equal(t, "sensitive_keyword", ev.Rule)

	// Without the keyword, the source allowlist applies.
	ev = p.Evaluate(&task.Task{Source: "gmail", Body: "just a note"})
	assert.False(t, ev.Require)
	assert.Equal(t, "auto_approve_source", ev.Rule)
}

func TestFirstActionOnPlatform(t *testing.T) {
	history := fakeHistory{"twitter/social_post": true}
	p := NewPolicy(FirstActionOnPlatform(history))

	fresh := &task.Task{Source: "linkedin", Action: "social_post"}
	ev := p.Evaluate(fresh)
	assert.True(t, ev.Require)
	assert.Equal(t, "first_action_on_platform", ev.Rule)

	repeat := &task.Task{Source: "twitter", Action: "social_post"}
	ev = p.Evaluate(repeat)
	assert.True(t, ev.Require, "no later rule matched, so deny-by-default still holds")
	assert.Equal(t, "default", ev.Rule)

	noAction := &task.Task{Source: "twitter"}
	ev = p.Evaluate(noAction)
	assert.Equal(t, "default", ev.Rule)
}

func TestPersonalLowRisk(t *testing.T) {
	p := NewPolicy(PersonalLowRisk())

	auto := &task.Task{Domain: task.DomainPersonal, Intent: task.IntentQuestion}
	assert.False(t, p.Evaluate(auto).Require)

	post := &task.Task{Domain: task.DomainPersonal, Intent: task.IntentPost}
	assert.True(t, p.Evaluate(post).Require)

	business := &task.Task{Domain: task.DomainBusiness, Intent: task.IntentQuestion}
	assert.True(t, p.Evaluate(business).Require)
}

func TestApproveAllOverride(t *testing.T) {
	p := NewPolicy(SensitiveKeyword("payment")).WithApproveAll(true)

	ev := p.Evaluate(&task.Task{Body: "payment details inside"})
	assert.False(t, ev.Require)
	assert.True(t, ev.Overridden, "override use must be distinguishable for auditing")
	assert.Equal(t, "approve_all_override", ev.Rule)
}

func TestNewContact(t *testing.T) {
	p := NewPolicy(NewContact("alice@example.com", "Bob"), AutoApproveSources("gmail"))

	unknown := &task.Task{Source: "gmail", Contact: "mallory@example.com"}
	ev := p.Evaluate(unknown)
	assert.True(t, ev.Require)
	assert.Equal(t, "new_contact", ev.Rule)

	known := &task.Task{Source: "gmail", Contact: "ALICE@example.com"}
	ev = p.Evaluate(known)
	assert.False(t, ev.Require, "known contacts fall through to later rules")
	assert.Equal(t, "auto_approve_source", ev.Rule)

	noContact := &task.Task{Source: "gmail"}
	assert.Equal(t, "auto_approve_source", p.Evaluate(noContact).Rule)
}

func TestBatchSizeAbove(t *testing.T) {
	p := NewPolicy(BatchSizeAbove(10), AutoApproveSources("gmail"))

	bulk := &task.Task{Source: "gmail", BatchSize: 50}
	ev := p.Evaluate(bulk)
	assert.True(t, ev.Require)
	assert.Equal(t, "batch_size", ev.Rule)

	small := &task.Task{Source: "gmail", BatchSize: 10}
	assert.False(t, p.Evaluate(small).Require)
}

func TestSensitiveKeywordCaseInsensitive(t *testing.T) {
	p := NewPolicy(SensitiveKeyword("Contract"))
	ev := p.Evaluate(&task.Task{Body: "the CONTRACT is attached"})
	assert.True(t, ev.Require)
}
