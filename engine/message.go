package engine

import (
	"context"
	"sort"

	"github.com/mailkite/filtra/helpers"
)

// Attachment is one message attachment as seen by the resolver. Body is the
// decoded content for text attachments and empty otherwise.
type Attachment struct {
	Filename    string
	ContentType string
	Body        string
}

// Message is the engine's read-only view of one indexed message. Identity,
// path, thread membership and stored tags come from the mail index; content
// accessors may fail (for example when the file is unreadable), which the
// engine treats as a non-match for the affected filter.
type Message interface {
	ID() string
	Path() string
	ThreadID() string
	Tags() []string

	Header(name string) ([]string, error)
	Body() (string, error)
	Attachments() ([]Attachment, error)
}

// Source is the mail index collaborator: it enumerates messages to process
// and persists the engine's tag decisions. Implementations live in the db
// (PostgreSQL) and localdb (sqlite) packages.
type Source interface {
	// Enumerate returns the messages currently carrying the given tag.
	Enumerate(ctx context.Context, tag string) ([]Message, error)
	// ThreadTags returns the union of tags across the message's thread.
	ThreadTags(ctx context.Context, msg Message) ([]string, error)
	// SetTags persists the message's tag set after its filter pass.
	SetTags(ctx context.Context, msg Message, tags []string) error
	// RemoveMessage forgets a message whose file was deleted by a filter.
	RemoveMessage(ctx context.Context, msg Message) error
}

// FileMessage is the standard Message implementation: index metadata plus
// content parsed lazily from the message file at the storage path.
type FileMessage struct {
	MessageID   string
	StoragePath string
	Thread      string
	StoredTags  []string

	file *helpers.MessageFile
}

// NewFileMessage builds a FileMessage; the file at path is not touched until
// a content accessor is first used.
func NewFileMessage(id, path, threadID string, tags []string) *FileMessage {
	return &FileMessage{
		MessageID:   id,
		StoragePath: path,
		Thread:      threadID,
		StoredTags:  tags,
		file:        helpers.NewMessageFile(path),
	}
}

func (m *FileMessage) ID() string       { return m.MessageID }
func (m *FileMessage) Path() string     { return m.StoragePath }
func (m *FileMessage) ThreadID() string { return m.Thread }
func (m *FileMessage) Tags() []string   { return m.StoredTags }

func (m *FileMessage) Header(name string) ([]string, error) {
	return m.file.Header(name)
}

func (m *FileMessage) Body() (string, error) {
	return m.file.Body()
}

func (m *FileMessage) Attachments() ([]Attachment, error) {
	parts, err := m.file.Attachments()
	if err != nil {
		return nil, err
	}
	atts := make([]Attachment, len(parts))
	for i, p := range parts {
		atts[i] = Attachment(p)
	}
	return atts, nil
}

// TagSet is a mutable set of tags, owned exclusively by the worker
// processing its message. Adding a present tag or removing an absent one is
// a no-op.
type TagSet struct {
	m map[string]struct{}
}

func NewTagSet(tags ...string) *TagSet {
	ts := &TagSet{m: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		ts.m[t] = struct{}{}
	}
	return ts
}

func (ts *TagSet) Add(tag string)      { ts.m[tag] = struct{}{} }
func (ts *TagSet) Remove(tag string)   { delete(ts.m, tag) }
func (ts *TagSet) Has(tag string) bool { _, ok := ts.m[tag]; return ok }
func (ts *TagSet) Len() int            { return len(ts.m) }

func (ts *TagSet) Clear() {
	ts.m = make(map[string]struct{})
}

// List returns the tags in sorted order.
func (ts *TagSet) List() []string {
	out := make([]string, 0, len(ts.m))
	for t := range ts.m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// View is the per-message state threaded through one filter pass: the
// mutable current tag set plus the immutable pre-run thread-tag snapshot.
// Views are constructed per message and discarded after the pass.
type View struct {
	msg        Message
	tags       *TagSet
	threadTags []string
}

// NewView seeds a view from the message's stored tags and the thread-tag
// snapshot taken before the run started.
func NewView(msg Message, threadTags []string) *View {
	return &View{
		msg:        msg,
		tags:       NewTagSet(msg.Tags()...),
		threadTags: threadTags,
	}
}

// Message returns the underlying read-only message.
func (v *View) Message() Message { return v.msg }

// Tags returns the message's current, mutable tag set.
func (v *View) Tags() *TagSet { return v.tags }

// ThreadTags returns the pre-run snapshot of the thread's tag union.
func (v *View) ThreadTags() []string { return v.threadTags }
