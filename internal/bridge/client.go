// Package bridge is the client for the local desktop-automation bridge: a
// small helper process that exposes the desktop mail client's object model
// over a loopback HTTP+JSON surface. The bridge is stateful and not safely
// reentrant past a small number of concurrent calls; the batch extractor
// enforces that bound.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/models"
)

// DefaultBaseURL is where the bridge helper listens when installed locally.
const DefaultBaseURL = "http://127.0.0.1:8379"

// Client talks to the automation bridge. It implements backend.Backend.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ backend.Backend = (*Client)(nil)

// NewClient creates a bridge client for the given base URL. An empty baseURL
// uses DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Protocol reports the local automation protocol.
func (c *Client) Protocol() models.Protocol {
	return models.ProtocolBridge
}

// AccountInfo describes the mailbox account the desktop client is signed
// into.
type AccountInfo struct {
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
}

type statusResponse struct {
	Connected bool        `json:"connected"`
	Account   AccountInfo `json:"account"`
}

// Status probes the bridge. It fails when the helper process or the desktop
// mail client is not running.
func (c *Client) Status(ctx context.Context) (*AccountInfo, error) {
	var status statusResponse
	if err := c.get(ctx, "/v1/status", &status); err != nil {
		return nil, fmt.Errorf("bridge unreachable: %w", err)
	}
	if !status.Connected {
		return nil, fmt.Errorf("bridge is running but the mail client is not connected")
	}
	return &status.Account, nil
}

type itemHandleJSON struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
}

type itemListResponse struct {
	Items []itemHandleJSON `json:"items"`
}

// ListHandles lists item handles in a folder, newest first.
func (c *Client) ListHandles(ctx context.Context, folder string, limit int) ([]backend.ItemHandle, error) {
	path := fmt.Sprintf("/v1/folders/%s/items?limit=%d", folder, limit)
	var resp itemListResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	handles := make([]backend.ItemHandle, 0, len(resp.Items))
	for _, item := range resp.Items {
		handles = append(handles, backend.ItemHandle{ID: item.ID, ReceivedAt: item.ReceivedAt})
	}
	// The bridge sorts already, but older builds did not; keep the contract.
	sort.SliceStable(handles, func(i, j int) bool {
		return handles[i].ReceivedAt.After(handles[j].ReceivedAt)
	})
	if limit > 0 && len(handles) > limit {
		handles = handles[:limit]
	}
	return handles, nil
}

type bridgeRecipient struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	EntryID string `json:"entry_id"`
	// Type uses the desktop client's convention: 1=to, 2=cc, 3=bcc.
	Type int `json:"type"`
}

type bridgeItem struct {
	ID             string            `json:"id"`
	Subject        string            `json:"subject"`
	SenderName     string            `json:"sender_name"`
	SenderAddress  string            `json:"sender_address"`
	Recipients     []bridgeRecipient `json:"recipients"`
	Body           string            `json:"body"`
	MIME           string            `json:"mime,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
	Unread         bool              `json:"unread"`
	Importance     int               `json:"importance"`
	HasAttachments bool              `json:"has_attachments"`
	Categories     string            `json:"categories"`
	ConversationID string            `json:"conversation_id"`
	Size           int64             `json:"size"`
	Properties     []propertyJSON    `json:"properties"`
}

// LoadItem extracts all fields of one item in a single bridge call, including
// its user properties, to minimize automation round trips.
func (c *Client) LoadItem(ctx context.Context, id string) (*backend.RawItem, error) {
	var item bridgeItem
	if err := c.get(ctx, "/v1/items/"+id, &item); err != nil {
		return nil, err
	}

	raw := &backend.RawItem{
		ID:             item.ID,
		Subject:        item.Subject,
		SenderName:     item.SenderName,
		SenderAddress:  item.SenderAddress,
		FullContent:    bodyContent(&item),
		ReceivedAt:     item.ReceivedAt,
		SentAt:         item.SentAt,
		IsRead:         !item.Unread,
		RawImportance:  fmt.Sprintf("%d", item.Importance),
		HasAttachments: item.HasAttachments,
		Categories:     splitCategories(item.Categories),
		ConversationID: item.ConversationID,
		Size:           item.Size,
		Properties:     newStaticBag(item.Properties),
	}

	for _, r := range item.Recipients {
		raw.Participants = append(raw.Participants, backend.RawParticipant{
			DisplayName: r.Name,
			Address:     r.Address,
			EntryID:     r.EntryID,
			Role:        recipientRole(r.Type),
		})
	}

	return raw, nil
}

// Properties returns a live view of the item's user properties. Enumeration
// behavior depends on the bridge build: some only support the list endpoint,
// some only counted indexed access, so both styles are exposed.
func (c *Client) Properties(ctx context.Context, id string) (backend.PropertyBag, error) {
	// Probe the item first so a vanished id surfaces as not-found here
	// instead of on the first bag access.
	var probe struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, "/v1/items/"+id+"/exists", &probe); err != nil {
		return nil, err
	}
	return &liveBag{client: c, itemID: id, ctx: ctx}, nil
}

type setPropertiesRequest struct {
	Properties []propertyJSON `json:"properties"`
}

// SetProperties creates or replaces the named user properties and saves the
// item.
func (c *Client) SetProperties(ctx context.Context, id string, props map[string]string) error {
	req := setPropertiesRequest{Properties: make([]propertyJSON, 0, len(props))}
	for name, value := range props {
		req.Properties = append(req.Properties, propertyJSON{Name: name, Value: value})
	}
	sort.Slice(req.Properties, func(i, j int) bool { return req.Properties[i].Name < req.Properties[j].Name })
	return c.send(ctx, http.MethodPut, "/v1/items/"+id+"/properties", req, nil)
}

// MoveItem moves an item into the named folder.
func (c *Client) MoveItem(ctx context.Context, id, folderName string) error {
	body := map[string]string{"folder": folderName}
	return c.send(ctx, http.MethodPost, "/v1/items/"+id+"/move", body, nil)
}

// CreateFolder creates a folder under the given parent ("" means top level).
// The bridge answers 409 for an existing folder, which is not an error here.
func (c *Client) CreateFolder(ctx context.Context, name, parent string) error {
	body := map[string]string{"name": name, "parent": parent}
	err := c.send(ctx, http.MethodPost, "/v1/folders", body, nil)
	if err != nil && strings.Contains(err.Error(), "status 409") {
		return nil
	}
	return err
}

type folderListResponse struct {
	Folders []struct {
		Name string `json:"name"`
	} `json:"folders"`
}

// ListFolders lists the mailbox's folder names.
func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	var resp folderListResponse
	if err := c.get(ctx, "/v1/folders", &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Folders))
	for _, f := range resp.Folders {
		names = append(names, f.Name)
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

// send performs one bridge request. Every request carries a fresh correlation
// id so bridge-side logs can be matched to engine logs.
func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode bridge request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build bridge request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		if strings.Contains(path, "/v1/folders/") {
			return backend.ErrFolderNotFound
		}
		return backend.ErrItemNotFound
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode bridge response: %w", err)
		}
	}
	return nil
}

// bodyContent picks the best body text for an item: the parsed MIME text part
// when raw MIME is present, otherwise the bridge's plain body field.
func bodyContent(item *bridgeItem) string {
	if item.MIME == "" {
		return item.Body
	}
	envelope, err := enmime.ReadEnvelope(strings.NewReader(item.MIME))
	if err != nil {
		return item.Body
	}
	if envelope.Text != "" {
		return envelope.Text
	}
	if envelope.HTML != "" {
		return envelope.HTML
	}
	return item.Body
}

func splitCategories(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	categories := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			categories = append(categories, trimmed)
		}
	}
	return categories
}

func recipientRole(t int) backend.Role {
	switch t {
	case 2:
		return backend.RoleCc
	case 3:
		return backend.RoleBcc
	case 1:
		return backend.RoleTo
	default:
		return backend.RoleUnknown
	}
}
