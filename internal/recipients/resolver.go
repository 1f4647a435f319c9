// Package recipients normalizes and deduplicates message participant
// identities and keeps a message's own sender out of its recipient lists.
package recipients

import (
	"strings"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/models"
)

// Directory resolves a participant's address when the remote surface reports
// only a display name or an internal identifier. Implementations may hit a
// directory service; a nil Directory skips this step.
type Directory interface {
	LookupAddress(displayName, entryID string) (address string, ok bool)
}

// Lists holds classified, resolved recipients.
type Lists struct {
	To  []models.Participant
	Cc  []models.Participant
	Bcc []models.Participant
}

// Resolver turns raw participants into classified recipient lists.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver. dir may be nil.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve extracts a best-effort address for each raw participant, classifies
// it by declared role (defaulting to To), deduplicates within each list, and
// drops any participant whose resolved identity matches the sender.
//
// The sender exclusion matches by address or display name, exact or
// substring, because address formats differ between backends for the same
// identity. A sender who legitimately appears as an explicit recipient (a
// self-addressed confirmation, a BCC-to-self) is dropped too; known
// limitation, kept until validated against real mailbox data.
func (r *Resolver) Resolve(raw []backend.RawParticipant, sender models.Participant) Lists {
	var lists Lists
	seen := map[backend.Role]map[string]bool{
		backend.RoleTo:  {},
		backend.RoleCc:  {},
		backend.RoleBcc: {},
	}

	for _, p := range raw {
		resolved := models.Participant{
			DisplayName: p.DisplayName,
			Address:     r.resolveAddress(p, sender),
		}
		if resolved.Address == "" && resolved.DisplayName == "" {
			continue
		}
		if isSender(resolved, sender) {
			continue
		}

		role := p.Role
		if role != backend.RoleCc && role != backend.RoleBcc {
			role = backend.RoleTo
		}

		key := strings.ToLower(resolved.Address)
		if key == "" {
			key = strings.ToLower(resolved.DisplayName)
		}
		if seen[role][key] {
			continue
		}
		seen[role][key] = true

		switch role {
		case backend.RoleCc:
			lists.Cc = append(lists.Cc, resolved)
		case backend.RoleBcc:
			lists.Bcc = append(lists.Bcc, resolved)
		default:
			lists.To = append(lists.To, resolved)
		}
	}

	return lists
}

// resolveAddress picks the participant's address: the direct field when it is
// address-shaped, then a directory lookup, then a heuristic re-derivation
// from the structured internal identifier.
func (r *Resolver) resolveAddress(p backend.RawParticipant, sender models.Participant) string {
	if isAddressShaped(p.Address) {
		return p.Address
	}

	if r.dir != nil {
		if addr, ok := r.dir.LookupAddress(p.DisplayName, p.EntryID); ok && isAddressShaped(addr) {
			return addr
		}
	}

	if addr := addressFromEntryID(p.EntryID, sender.Address); addr != "" {
		return addr
	}

	// Keep whatever the remote surface gave us; a raw exchange-style value
	// is still better than nothing for display purposes.
	return p.Address
}

// isAddressShaped reports whether a value looks like a deliverable address
// rather than an internal directory path.
func isAddressShaped(addr string) bool {
	return addr != "" && strings.Contains(addr, "@") && !strings.HasPrefix(addr, "/")
}

// addressFromEntryID re-derives an address from an Exchange-style identifier
// such as "/o=Org/ou=Unit/cn=Recipients/cn=jane.doe". The common-name segment
// sometimes embeds the full address; otherwise it is combined with the
// sender's domain as a last resort.
func addressFromEntryID(entryID, senderAddress string) string {
	if entryID == "" {
		return ""
	}

	var cn string
	for _, segment := range strings.Split(entryID, "/") {
		lower := strings.ToLower(segment)
		if strings.HasPrefix(lower, "cn=") {
			cn = segment[len("cn="):]
		}
	}
	if cn == "" || strings.EqualFold(cn, "recipients") {
		return ""
	}
	if isAddressShaped(cn) {
		return cn
	}

	at := strings.LastIndex(senderAddress, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(cn) + senderAddress[at:]
}

// isSender reports whether a resolved participant is the message's own
// sender. Substring matches cover the address-format inconsistencies between
// backends.
func isSender(p, sender models.Participant) bool {
	addr := strings.ToLower(p.Address)
	senderAddr := strings.ToLower(sender.Address)
	if addr != "" && senderAddr != "" {
		if addr == senderAddr || strings.Contains(addr, senderAddr) || strings.Contains(senderAddr, addr) {
			return true
		}
	}

	name := strings.ToLower(p.DisplayName)
	senderName := strings.ToLower(sender.DisplayName)
	if name != "" && senderName != "" {
		if name == senderName || strings.Contains(name, senderName) || strings.Contains(senderName, name) {
			return true
		}
	}

	return false
}
