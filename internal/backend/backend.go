// Package backend defines the uniform capability surface shared by the local
// automation bridge and the cloud API client. Callers obtain one Backend per
// session and never branch on the protocol downstream.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/cosmail/engine/internal/models"
)

// ErrItemNotFound is returned when a remote id no longer resolves to an item.
var ErrItemNotFound = errors.New("item not found")

// ErrFolderNotFound is returned when a named folder does not exist remotely.
var ErrFolderNotFound = errors.New("folder not found")

// ErrCursorInvalid is returned when the cloud backend rejects a stored sync
// cursor as invalid or expired. The caller must discard the cursor and run a
// full resync.
var ErrCursorInvalid = errors.New("sync cursor invalid or expired")

// Role is a participant's declared role on a message.
type Role int

const (
	RoleUnknown Role = iota
	RoleTo
	RoleCc
	RoleBcc
)

// RawParticipant is a participant exactly as the remote surface reports it,
// before resolution. EntryID is a structured internal identifier (for example
// an Exchange-style DN) that may be the only address-bearing field available.
type RawParticipant struct {
	DisplayName string
	Address     string
	EntryID     string
	Role        Role
}

// ItemHandle is a lightweight reference to a remote item, cheap to list.
type ItemHandle struct {
	ID         string
	ReceivedAt time.Time
}

// RawItem holds every field of one remote item, extracted in a single pass to
// minimize round trips. Participants are unresolved; Properties is the item's
// custom property bag as read in the same pass.
type RawItem struct {
	ID             string
	Subject        string
	SenderName     string
	SenderAddress  string
	Participants   []RawParticipant
	FullContent    string
	ReceivedAt     time.Time
	SentAt         *time.Time
	IsRead         bool
	RawImportance  string
	HasAttachments bool
	Categories     []string
	ConversationID string
	Size           int64
	Properties     PropertyBag
}

// PropertyBag is an untyped view of a remote item's custom properties. Remote
// collections differ in which access style they support: some fail on forward
// iteration, some on indexed access. Readers must tolerate either failing and
// fall back to the other.
type PropertyBag interface {
	// Len returns the number of properties in the bag.
	Len() (int, error)
	// ForEach iterates properties in collection order.
	ForEach(fn func(name, value string) error) error
	// At returns the property at index i (zero-based).
	At(i int) (name, value string, err error)
}

// Backend is the protocol-independent mailbox surface. Implementations:
// the bridge client (local automation) and the graph client (cloud API).
type Backend interface {
	// Protocol reports which backend protocol this is.
	Protocol() models.Protocol

	// ListHandles lists item handles in a folder, sorted by received time
	// descending, truncated to limit.
	ListHandles(ctx context.Context, folder string, limit int) ([]ItemHandle, error)

	// LoadItem extracts all fields of one item in a single pass, including
	// its property bag.
	LoadItem(ctx context.Context, id string) (*RawItem, error)

	// Properties reads just the item's custom property bag.
	Properties(ctx context.Context, id string) (PropertyBag, error)

	// SetProperties writes the given named properties onto the item,
	// creating or replacing each one, and saves the item.
	SetProperties(ctx context.Context, id string, props map[string]string) error

	// MoveItem moves an item into the named folder.
	MoveItem(ctx context.Context, id, folderName string) error

	// CreateFolder creates a folder, optionally under a parent. Creating a
	// folder that already exists is not an error.
	CreateFolder(ctx context.Context, name, parent string) error

	// ListFolders lists the mailbox's folder names.
	ListFolders(ctx context.Context) ([]string, error)
}
