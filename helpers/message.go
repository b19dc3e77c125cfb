// Package helpers provides message file parsing for the filter engine:
// header access, plain-text body extraction and attachment enumeration over
// MIME messages on disk.
package helpers

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/k3a/html2text"
)

// Attachment is one attachment part of a message. Body holds the decoded
// content for text attachments and is empty for everything else.
type Attachment struct {
	Filename    string
	ContentType string
	Body        string
}

// MessageFile parses an RFC 5322 message file lazily: the file is opened and
// walked once, on the first content access, and the decoded headers, body
// and attachments are kept for subsequent lookups. A MessageFile is owned by
// the single worker processing its message.
type MessageFile struct {
	path string

	once        sync.Once
	err         error
	headers     map[string][]string // lower-cased field name -> decoded values
	plainParts  []string
	htmlBody    string
	attachments []Attachment
}

// NewMessageFile returns a MessageFile for the given path without touching
// the file.
func NewMessageFile(path string) *MessageFile {
	return &MessageFile{path: path}
}

// Header returns the decoded values of a header field, case-insensitively.
// An absent header yields an empty slice, not an error.
func (m *MessageFile) Header(name string) ([]string, error) {
	if err := m.load(); err != nil {
		return nil, err
	}
	return m.headers[strings.ToLower(name)], nil
}

// Body returns the message's plain-text body. Multiple text/plain parts are
// concatenated; a message with only an HTML body falls back to its text
// rendering.
func (m *MessageFile) Body() (string, error) {
	if err := m.load(); err != nil {
		return "", err
	}
	if len(m.plainParts) == 0 && m.htmlBody != "" {
		return html2text.HTML2Text(m.htmlBody), nil
	}
	return strings.Join(m.plainParts, "\n"), nil
}

// Attachments returns the message's attachments in MIME order.
func (m *MessageFile) Attachments() ([]Attachment, error) {
	if err := m.load(); err != nil {
		return nil, err
	}
	return m.attachments, nil
}

func (m *MessageFile) load() error {
	m.once.Do(func() {
		file, err := os.Open(m.path)
		if err != nil {
			m.err = fmt.Errorf("opening message file: %w", err)
			return
		}
		defer file.Close()

		entity, err := message.Read(file)
		if err != nil && !message.IsUnknownCharset(err) {
			m.err = fmt.Errorf("parsing message %s: %w", m.path, err)
			return
		}

		m.headers = make(map[string][]string)
		fields := entity.Header.Fields()
		for fields.Next() {
			value, err := fields.Text()
			if err != nil {
				// Undecodable encoded-word; match against the raw value.
				value = fields.Value()
			}
			key := strings.ToLower(fields.Key())
			m.headers[key] = append(m.headers[key], value)
		}

		m.err = m.walk(entity)
	})
	return m.err
}

// walk descends the MIME tree, collecting text body parts and attachments.
// go-message decodes transfer encodings and charsets transparently.
func (m *MessageFile) walk(entity *message.Entity) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return fmt.Errorf("reading multipart: %w", err)
			}
			if err := m.walk(part); err != nil {
				return err
			}
		}
	}

	mediaType, ctParams, _ := entity.Header.ContentType()
	disposition, dispParams, _ := entity.Header.ContentDisposition()

	if disposition == "attachment" {
		att := Attachment{
			Filename:    dispParams["filename"],
			ContentType: mediaType,
		}
		if att.Filename == "" {
			att.Filename = ctParams["name"]
		}
		if strings.HasPrefix(mediaType, "text") {
			content, err := io.ReadAll(entity.Body)
			if err != nil {
				return fmt.Errorf("reading attachment %q: %w", att.Filename, err)
			}
			att.Body = string(content)
		}
		m.attachments = append(m.attachments, att)
		return nil
	}

	switch mediaType {
	case "text/plain", "":
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("reading text part: %w", err)
		}
		m.plainParts = append(m.plainParts, string(content))
	case "text/html":
		if m.htmlBody == "" {
			content, err := io.ReadAll(entity.Body)
			if err != nil {
				return fmt.Errorf("reading html part: %w", err)
			}
			m.htmlBody = string(content)
		}
	}
	return nil
}
