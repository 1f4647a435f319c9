package models

// Protocol identifies which backend protocol a session is using.
type Protocol string

const (
	// ProtocolBridge is the local desktop-automation bridge.
	ProtocolBridge Protocol = "bridge"
	// ProtocolCloud is the cloud mail API.
	ProtocolCloud Protocol = "cloud"
)

// ConnectionState describes the outcome of a connect attempt. The protocol is
// chosen once per session and held for the session's lifetime.
type ConnectionState struct {
	Protocol       Protocol          `json:"protocol,omitempty"`
	Connected      bool              `json:"connected"`
	Account        map[string]string `json:"account,omitempty"`
	FoldersChecked bool              `json:"folders_checked"`
	// Remediation carries human-readable help when no backend is reachable.
	Remediation string `json:"remediation,omitempty"`
}
