package models

import (
	"time"
	"unicode/utf8"
)

// Importance is the remote store's own importance marker, distinct from the
// machine-derived Priority on an AnnotationRecord.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// ParseImportance maps a raw importance value to a known level, defaulting to
// normal for anything unrecognized.
func ParseImportance(raw string) Importance {
	switch raw {
	case "low", "0":
		return ImportanceLow
	case "high", "2":
		return ImportanceHigh
	default:
		return ImportanceNormal
	}
}

// Participant is one message identity (sender or recipient).
type Participant struct {
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
}

// MailItemSnapshot is an immutable structured read of one remote message at a
// point in time. The remote mailbox owns the item; the engine only reads it.
type MailItemSnapshot struct {
	ID             string            `json:"id"`
	Subject        string            `json:"subject"`
	Sender         Participant       `json:"sender"`
	To             []Participant     `json:"to"`
	Cc             []Participant     `json:"cc"`
	Bcc            []Participant     `json:"bcc"`
	FullContent    string            `json:"full_content"`
	Preview        string            `json:"preview"`
	ReceivedAt     time.Time         `json:"received_at"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
	IsRead         bool              `json:"is_read"`
	Importance     Importance        `json:"importance"`
	HasAttachments bool              `json:"has_attachments"`
	Categories     []string          `json:"categories,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Size           int64             `json:"size"`
	Annotation     *AnnotationRecord `json:"annotation,omitempty"`
}

const previewLength = 200

// MakePreview derives the short preview text from full body content. The cut
// lands on a rune boundary so a multi-byte character is never split.
func MakePreview(content string) string {
	if len(content) <= previewLength {
		return content
	}
	cut := previewLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}
