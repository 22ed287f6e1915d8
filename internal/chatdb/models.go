package chatdb

import (
	"path/filepath"
	"strings"
	"time"
)

// Attachment describes one file carried by a message row.
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
}

// BaseName returns the attachment filename without directory or extension.
func (a Attachment) BaseName() string {
	base := filepath.Base(a.Filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Message is one observed row from the history database. FromMe
// distinguishes rows produced by this machine's own sends from rows
// received from counterparties.
type Message struct {
	RowID       int64
	GUID        string
	ChatKey     string // service-qualified thread key, e.g. "iMessage;-;+15550100"
	Handle      string // counterparty address, empty for self-originated rows
	Text        string
	FromMe      bool
	IsGroup     bool
	IsRead      bool
	Time        time.Time
	Attachments []Attachment
}

// HasAttachments reports whether the row carries at least one attachment.
func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}
