package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/declanhiggins/echobridge/internal/chatdb"
)

const tolerance = 5 * time.Second

func selfRow(target, text string, at time.Time) *chatdb.Message {
	return &chatdb.Message{
		RowID:   1,
		ChatKey: target,
		Text:    text,
		FromMe:  true,
		Time:    at,
	}
}

func TestNormalizeTarget(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"iMessage;-;+15550100", "+15550100"},
		{"+15550100", "+15550100"},
		{"SMS;-;user@example.com", "user@example.com"},
		{"sms;+;Chat000123", "chat000123"},
		{"  +15550100  ", "+15550100"},
		{"iMessage;-; +15550100 ", "+15550100"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeTarget(tc.in), "NormalizeTarget(%q)", tc.in)
	}
}

func TestTargetNormalizationEquivalence(t *testing.T) {
	// Service-qualified and bare forms of the same address are equal.
	for _, addr := range []string{"+15550100", "user@example.com", "chat492"} {
		assert.Equal(t, NormalizeTarget("svc;-;"+addr), NormalizeTarget(addr))
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello  World", "helloworld"},
		{"hello world", "helloworld"},
		{" hello\tworld\n", "helloworld"},
		{"HELLO", "hello"},
		{"你好 世界", "你好世界"},
		{"🎉 party", "🎉party"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeText(tc.in), "NormalizeText(%q)", tc.in)
	}
}

func TestMatchesTextSend(t *testing.T) {
	exp := New("+1", "Hello!!", time.Minute)
	row := selfRow("+1", "hello !! ", time.Now())

	assert.True(t, Matches(exp, row, tolerance))
}

func TestMatchesRejectsDifferentText(t *testing.T) {
	exp := New("+1", "Hello!!", time.Minute)
	row := selfRow("+1", "hello!", time.Now())

	assert.False(t, Matches(exp, row, tolerance))
}

func TestMatchesRejectsOtherOrigin(t *testing.T) {
	exp := New("+1", "hello", time.Minute)
	row := selfRow("+1", "hello", time.Now())
	row.FromMe = false

	assert.False(t, Matches(exp, row, tolerance))
}

func TestMatchesRejectsOtherTarget(t *testing.T) {
	exp := New("+15550100", "hello", time.Minute)
	row := selfRow("iMessage;-;+15550199", "hello", time.Now())

	assert.False(t, Matches(exp, row, tolerance))
}

func TestMatchesServiceQualifiedTarget(t *testing.T) {
	exp := New("+15550100", "hello", time.Minute)
	row := selfRow("iMessage;-;+15550100", "hello", time.Now())

	assert.True(t, Matches(exp, row, tolerance))
}

func TestTimeWindowRejection(t *testing.T) {
	exp := New("+1", "hello", time.Minute)

	tooOld := selfRow("+1", "hello", exp.CreatedAt.Add(-tolerance-time.Millisecond))
	assert.False(t, Matches(exp, tooOld, tolerance))

	withinSkew := selfRow("+1", "hello", exp.CreatedAt.Add(-tolerance+time.Millisecond))
	assert.True(t, Matches(exp, withinSkew, tolerance))
}

func TestMatchesAttachment(t *testing.T) {
	row := selfRow("+1", "", time.Now())
	row.Attachments = []chatdb.Attachment{{Filename: "/var/att/Receipt.PDF"}}

	named := NewAttachment("+1", "receipt", time.Minute)
	assert.True(t, Matches(named, row, tolerance))

	other := NewAttachment("+1", "invoice", time.Minute)
	assert.False(t, Matches(other, row, tolerance))

	// No key set: any attachment satisfies the rule.
	anyAtt := NewAttachment("+1", "", time.Minute)
	assert.True(t, Matches(anyAtt, row, tolerance))

	// An attachment expectation never matches a bare text row.
	bare := selfRow("+1", "receipt", time.Now())
	assert.False(t, Matches(named, bare, tolerance))
}
