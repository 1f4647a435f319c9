package recipients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/models"
)

// mapDirectory answers lookups by display name.
type mapDirectory map[string]string

func (d mapDirectory) LookupAddress(displayName, entryID string) (string, bool) {
	addr, ok := d[displayName]
	return addr, ok
}

func TestResolve(t *testing.T) {
	sender := models.Participant{DisplayName: "Alice Sender", Address: "alice@example.com"}

	tests := []struct {
		name        string
		dir         Directory
		raw         []backend.RawParticipant
		sender      models.Participant
		checkResult func(t *testing.T, lists Lists)
	}{
		{
			name: "classifies by role with To as the default",
			raw: []backend.RawParticipant{
				{DisplayName: "Bob", Address: "bob@example.com", Role: backend.RoleTo},
				{DisplayName: "Carol", Address: "carol@example.com", Role: backend.RoleCc},
				{DisplayName: "Dave", Address: "dave@example.com", Role: backend.RoleBcc},
				{DisplayName: "Eve", Address: "eve@example.com", Role: backend.RoleUnknown},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				require.Len(t, lists.To, 2)
				assert.Equal(t, "bob@example.com", lists.To[0].Address)
				assert.Equal(t, "eve@example.com", lists.To[1].Address)
				require.Len(t, lists.Cc, 1)
				assert.Equal(t, "carol@example.com", lists.Cc[0].Address)
				require.Len(t, lists.Bcc, 1)
				assert.Equal(t, "dave@example.com", lists.Bcc[0].Address)
			},
		},
		{
			name: "deduplicates within a list case-insensitively",
			raw: []backend.RawParticipant{
				{DisplayName: "Bob", Address: "bob@example.com", Role: backend.RoleTo},
				{DisplayName: "Robert", Address: "BOB@Example.com", Role: backend.RoleTo},
				{DisplayName: "Bob", Address: "bob@example.com", Role: backend.RoleCc},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				// Same address twice in To collapses; the Cc appearance is a
				// separate list and stays.
				require.Len(t, lists.To, 1)
				assert.Equal(t, "Bob", lists.To[0].DisplayName)
				require.Len(t, lists.Cc, 1)
			},
		},
		{
			name: "excludes the sender by address",
			raw: []backend.RawParticipant{
				{DisplayName: "Someone Else", Address: "alice@example.com", Role: backend.RoleTo},
				{DisplayName: "Bob", Address: "bob@example.com", Role: backend.RoleTo},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				require.Len(t, lists.To, 1)
				assert.Equal(t, "bob@example.com", lists.To[0].Address)
			},
		},
		{
			name: "excludes the sender by display name substring",
			raw: []backend.RawParticipant{
				{DisplayName: "Alice Sender (she/her)", Address: "/o=Org/ou=First/cn=Recipients/cn=asender", Role: backend.RoleTo},
				{DisplayName: "Bob", Address: "bob@example.com", Role: backend.RoleTo},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				require.Len(t, lists.To, 1)
				assert.Equal(t, "Bob", lists.To[0].DisplayName)
			},
		},
		{
			name: "keeps direct addresses without consulting the directory",
			dir:  mapDirectory{"Bob": "wrong@example.com"},
			raw: []backend.RawParticipant{
				{DisplayName: "Bob", Address: "bob@example.com", Role: backend.RoleTo},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				require.Len(t, lists.To, 1)
				assert.Equal(t, "bob@example.com", lists.To[0].Address)
			},
		},
		{
			name: "resolves exchange-style values through the directory",
			dir:  mapDirectory{"Bob": "bob@corp.example.com"},
			raw: []backend.RawParticipant{
				{DisplayName: "Bob", Address: "/o=Org/ou=First/cn=Recipients/cn=bob", Role: backend.RoleTo},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				require.Len(t, lists.To, 1)
				assert.Equal(t, "bob@corp.example.com", lists.To[0].Address)
			},
		},
		{
			name: "derives an address from the entry id common name",
			raw: []backend.RawParticipant{
				{DisplayName: "Bob", EntryID: "/o=Org/ou=First/cn=Recipients/cn=bob@corp.example.com", Role: backend.RoleTo},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				require.Len(t, lists.To, 1)
				assert.Equal(t, "bob@corp.example.com", lists.To[0].Address)
			},
		},
		{
			name: "combines the common name with the sender's domain",
			raw: []backend.RawParticipant{
				{DisplayName: "Bob", EntryID: "/o=Org/ou=First/cn=Recipients/cn=Bob.Jones", Role: backend.RoleTo},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				require.Len(t, lists.To, 1)
				assert.Equal(t, "bob.jones@example.com", lists.To[0].Address)
			},
		},
		{
			name: "keeps the raw value when nothing resolves",
			raw: []backend.RawParticipant{
				{DisplayName: "Bob", Address: "/o=Org/ou=First/cn=Recipients", Role: backend.RoleTo},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				require.Len(t, lists.To, 1)
				assert.Equal(t, "/o=Org/ou=First/cn=Recipients", lists.To[0].Address)
			},
		},
		{
			name: "drops participants with no identity at all",
			raw: []backend.RawParticipant{
				{Role: backend.RoleTo},
				{DisplayName: "Bob", Address: "bob@example.com", Role: backend.RoleTo},
			},
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				assert.Len(t, lists.To, 1)
			},
		},
		{
			name:   "empty input yields empty lists",
			raw:    nil,
			sender: sender,
			checkResult: func(t *testing.T, lists Lists) {
				assert.Empty(t, lists.To)
				assert.Empty(t, lists.Cc)
				assert.Empty(t, lists.Bcc)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.dir)
			lists := r.Resolve(tt.raw, tt.sender)
			tt.checkResult(t, lists)
		})
	}
}

func TestIsSender(t *testing.T) {
	sender := models.Participant{DisplayName: "Alice Sender", Address: "alice@example.com"}

	tests := []struct {
		name string
		p    models.Participant
		want bool
	}{
		{"exact address match", models.Participant{Address: "alice@example.com"}, true},
		{"address case-insensitive", models.Participant{Address: "ALICE@example.com"}, true},
		{"participant address contains sender", models.Participant{Address: "smtp:alice@example.com"}, true},
		{"sender address contains participant", models.Participant{Address: "example.com"}, true},
		{"exact name match", models.Participant{DisplayName: "Alice Sender"}, true},
		{"name substring", models.Participant{DisplayName: "Alice"}, true},
		{"different person", models.Participant{DisplayName: "Bob", Address: "bob@example.com"}, false},
		{"empty participant", models.Participant{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSender(tt.p, sender))
		})
	}
}
