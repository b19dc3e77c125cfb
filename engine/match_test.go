package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessage is an in-memory Message for tests.
type fakeMessage struct {
	id          string
	path        string
	threadID    string
	tags        []string
	headers     map[string][]string
	body        string
	attachments []Attachment

	headerErr error
	bodyErr   error
	attachErr error
}

func newFakeMessage(id string, headers map[string][]string) *fakeMessage {
	return &fakeMessage{
		id:       id,
		path:     "/mail/cur/" + id + ".eml",
		threadID: "thread-" + id,
		headers:  headers,
	}
}

func (m *fakeMessage) ID() string       { return m.id }
func (m *fakeMessage) Path() string     { return m.path }
func (m *fakeMessage) ThreadID() string { return m.threadID }
func (m *fakeMessage) Tags() []string   { return m.tags }

func (m *fakeMessage) Header(name string) ([]string, error) {
	if m.headerErr != nil {
		return nil, m.headerErr
	}
	return m.headers[name], nil
}

func (m *fakeMessage) Body() (string, error) {
	if m.bodyErr != nil {
		return "", m.bodyErr
	}
	return m.body, nil
}

func (m *fakeMessage) Attachments() ([]Attachment, error) {
	if m.attachErr != nil {
		return nil, m.attachErr
	}
	return m.attachments, nil
}

func mustCompile(t *testing.T, filters ...*Filter) []*Filter {
	t.Helper()
	require.NoError(t, Compile(filters))
	return filters
}

func TestMatchHeaderSemantics(t *testing.T) {
	msg := newFakeMessage("m1", map[string][]string{
		"from":    {"Billing <billing@real.bank>"},
		"subject": {"Monthly report"},
		"cc":      {"one@example.com", "two@example.com"},
	})

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{
			name: "all fields of a rule must match",
			rule: Rule{"from": {`@(real\.bank|gringotts)`}, "subject": {"report"}},
			want: true,
		},
		{
			name: "one non-matching field fails the rule",
			rule: Rule{"from": {`@real\.bank`}, "subject": {"invoice"}},
			want: false,
		},
		{
			name: "matching is case-insensitive",
			rule: Rule{"subject": {"MONTHLY"}},
			want: true,
		},
		{
			name: "patterns are unanchored partial matches",
			rule: Rule{"from": {"real"}},
			want: true,
		},
		{
			name: "any value of a repeated header suffices",
			rule: Rule{"cc": {"two@"}},
			want: true,
		},
		{
			name: "all patterns under one selector must match",
			rule: Rule{"subject": {"monthly", "report"}},
			want: true,
		},
		{
			name: "one failing pattern under a selector fails",
			rule: Rule{"subject": {"monthly", "invoice"}},
			want: false,
		},
		{
			name: "absent header never matches",
			rule: Rule{"x-spam-status": {".*"}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustCompile(t, &Filter{Name: "t", Rules: []Rule{tt.rule}})[0]
			got, err := f.Match(NewView(msg, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchRulesAreAlternatives(t *testing.T) {
	msg := newFakeMessage("m1", map[string][]string{
		"from": {"like@a.boss"},
	})
	f := mustCompile(t, &Filter{Name: "money", Rules: []Rule{
		{"from": {`@(real\.bank|gringotts)`}, "subject": {"report"}},
		{"from": {`like@a\.boss`}},
	}})[0]

	got, err := f.Match(NewView(msg, nil))
	require.NoError(t, err)
	assert.True(t, got, "second rule alone should match")
}

func TestMatchReservedSelectors(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	msg.tags = []string{"inbox", "unread"}
	msg.body = "Please find the report attached."
	msg.attachments = []Attachment{
		{Filename: "report.pdf", ContentType: "application/pdf"},
		{Filename: "notes.txt", ContentType: "text/plain", Body: "quarterly numbers"},
		{Filename: "", ContentType: "image/png"},
	}

	tests := []struct {
		name       string
		rule       Rule
		threadTags []string
		want       bool
	}{
		{"path", Rule{"@path": {`/mail/cur/`}}, nil, true},
		{"tags", Rule{"@tags": {"^unread$"}}, nil, true},
		{"tags absent", Rule{"@tags": {"^archived$"}}, nil, false},
		{"thread tags", Rule{"@thread-tags": {"^flagged$"}}, []string{"flagged", "inbox"}, true},
		{"thread tags empty snapshot", Rule{"@thread-tags": {".*"}}, nil, false},
		{"body", Rule{"@body": {"report attached"}}, nil, true},
		{"attachment filename", Rule{"@attachment": {`\.pdf$`}}, nil, true},
		{"attachment nameless skipped", Rule{"@attachment": {"^$"}}, nil, false},
		{"attachment body text only", Rule{"@attachment-body": {"quarterly"}}, nil, true},
		{"attachment body ignores binary", Rule{"@attachment-body": {"PDF-1"}}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustCompile(t, &Filter{Name: "t", Rules: []Rule{tt.rule}})[0]
			got, err := f.Match(NewView(msg, tt.threadTags))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchEmptyBodyIsSingleEmptyValue(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	f := mustCompile(t, &Filter{Name: "t", Rules: []Rule{{"@body": {"^$"}}}})[0]
	got, err := f.Match(NewView(msg, nil))
	require.NoError(t, err)
	assert.True(t, got, "an empty body is one empty value, not no values")
}

func TestMatchResolutionFailure(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	msg.bodyErr = fmt.Errorf("open %s: no such file", msg.path)
	f := mustCompile(t, &Filter{Name: "t", Rules: []Rule{{"@body": {"x"}}}})[0]

	got, err := f.Match(NewView(msg, nil))
	assert.False(t, got)
	var resErr *ResolveError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, SelectorBody, resErr.Selector)
	assert.ErrorIs(t, err, msg.bodyErr)
}

func TestMatchSeesEarlierTagMutations(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	msg.tags = []string{"new"}
	f := mustCompile(t, &Filter{Name: "t", Rules: []Rule{{"@tags": {"^flagged$"}}}})[0]

	v := NewView(msg, nil)
	got, err := f.Match(v)
	require.NoError(t, err)
	assert.False(t, got)

	v.Tags().Add("flagged")
	got, err = f.Match(v)
	require.NoError(t, err)
	assert.True(t, got)
}
