// Package graph is the cloud mail API client. Unlike the bridge, the cloud
// surface is stateless: every call is an authenticated HTTP request, and
// incremental sync is driven by delta-query continuation tokens.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/models"
)

// DefaultBaseURL is the production cloud API endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client talks to the cloud mail API. It implements backend.Backend.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenProvider

	mu        sync.Mutex
	folderIDs map[string]string
}

var _ backend.Backend = (*Client)(nil)

// NewClient creates a cloud client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, tokens *TokenProvider) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		tokens:    tokens,
		folderIDs: make(map[string]string),
	}
}

// Protocol reports the cloud protocol.
func (c *Client) Protocol() models.Protocol {
	return models.ProtocolCloud
}

// Authorized reports whether a cached authorization grant exists. It does not
// verify the grant against the API; GetProfile does that.
func (c *Client) Authorized() bool {
	return c.tokens != nil && c.tokens.Authorized()
}

// Profile is the signed-in mailbox's account metadata.
type Profile struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// GetProfile fetches account metadata for the signed-in mailbox.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/me", nil, &profile); err != nil {
		return nil, err
	}
	if profile.Mail == "" {
		profile.Mail = profile.UserPrincipalName
	}
	return &profile, nil
}

// Wire shapes. Timestamps stay strings until conversion so a malformed value
// degrades one field, not the whole item.
type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type addressWrapper struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type wireMessage struct {
	ID               string           `json:"id"`
	Subject          string           `json:"subject"`
	From             *addressWrapper  `json:"from"`
	ToRecipients     []addressWrapper `json:"toRecipients"`
	CcRecipients     []addressWrapper `json:"ccRecipients"`
	BccRecipients    []addressWrapper `json:"bccRecipients"`
	Body             *itemBody        `json:"body"`
	BodyPreview      string           `json:"bodyPreview"`
	ReceivedDateTime string           `json:"receivedDateTime"`
	SentDateTime     string           `json:"sentDateTime"`
	IsRead           bool             `json:"isRead"`
	Importance       string           `json:"importance"`
	HasAttachments   bool             `json:"hasAttachments"`
	Categories       []string         `json:"categories"`
	ConversationID   string           `json:"conversationId"`

	Removed *struct {
		Reason string `json:"reason"`
	} `json:"@removed,omitempty"`

	ExtendedProperties []extendedProperty `json:"singleValueExtendedProperties,omitempty"`
}

type messageList struct {
	Value     []wireMessage `json:"value"`
	NextLink  string        `json:"@odata.nextLink"`
	DeltaLink string        `json:"@odata.deltaLink"`
}

type handleEntry struct {
	ID               string `json:"id"`
	ReceivedDateTime string `json:"receivedDateTime"`
}

type handleList struct {
	Value    []handleEntry `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

// ListHandles lists item handles in a folder, newest first.
func (c *Client) ListHandles(ctx context.Context, folder string, limit int) ([]backend.ItemHandle, error) {
	folderID, err := c.resolveFolderID(ctx, folder)
	if err != nil {
		return nil, err
	}

	top := limit
	if top <= 0 || top > 100 {
		top = 100
	}
	query := url.Values{}
	query.Set("$select", "id,receivedDateTime")
	query.Set("$orderby", "receivedDateTime desc")
	query.Set("$top", strconv.Itoa(top))
	endpoint := fmt.Sprintf("%s/me/mailFolders/%s/messages?%s",
		c.baseURL, url.PathEscape(folderID), query.Encode())

	var handles []backend.ItemHandle
	for endpoint != "" && (limit <= 0 || len(handles) < limit) {
		var page handleList
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		for _, entry := range page.Value {
			received, _ := time.Parse(time.RFC3339, entry.ReceivedDateTime)
			handles = append(handles, backend.ItemHandle{ID: entry.ID, ReceivedAt: received})
		}
		endpoint = page.NextLink
	}

	if limit > 0 && len(handles) > limit {
		handles = handles[:limit]
	}
	return handles, nil
}

// LoadItem fetches one message with its annotation properties expanded, in a
// single request.
func (c *Client) LoadItem(ctx context.Context, id string) (*backend.RawItem, error) {
	endpoint := fmt.Sprintf("%s/me/messages/%s?$expand=%s", c.baseURL, url.PathEscape(id), expandExtendedProperties())
	var msg wireMessage
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &msg); err != nil {
		return nil, err
	}
	return rawItemFromWire(&msg), nil
}

// Properties reads just the annotation property bag of one message.
func (c *Client) Properties(ctx context.Context, id string) (backend.PropertyBag, error) {
	endpoint := fmt.Sprintf("%s/me/messages/%s?$select=id&$expand=%s", c.baseURL, url.PathEscape(id), expandExtendedProperties())
	var msg wireMessage
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &msg); err != nil {
		return nil, err
	}
	return bagFromExtendedProperties(msg.ExtendedProperties), nil
}

// SetProperties writes the given namespaced properties as single-value
// extended properties in one PATCH.
func (c *Client) SetProperties(ctx context.Context, id string, props map[string]string) error {
	patch := patchFromProperties(props)
	if len(patch.SingleValueExtendedProperties) == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("%s/me/messages/%s", c.baseURL, url.PathEscape(id))
	return c.doJSON(ctx, http.MethodPatch, endpoint, patch, nil)
}

// MoveItem moves a message into the named folder.
func (c *Client) MoveItem(ctx context.Context, id, folderName string) error {
	folderID, err := c.resolveFolderID(ctx, folderName)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/me/messages/%s/move", c.baseURL, url.PathEscape(id))
	body := map[string]string{"destinationId": folderID}
	return c.doJSON(ctx, http.MethodPost, endpoint, body, nil)
}

type folderEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type folderListPage struct {
	Value    []folderEntry `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

// CreateFolder creates a folder, optionally under a parent. A duplicate name
// is not an error.
func (c *Client) CreateFolder(ctx context.Context, name, parent string) error {
	endpoint := c.baseURL + "/me/mailFolders"
	if parent != "" {
		parentID, err := c.resolveFolderID(ctx, parent)
		if err != nil {
			return err
		}
		endpoint = fmt.Sprintf("%s/me/mailFolders/%s/childFolders", c.baseURL, url.PathEscape(parentID))
	}

	var created folderEntry
	err := c.doJSON(ctx, http.MethodPost, endpoint, map[string]string{"displayName": name}, &created)
	if err != nil {
		if strings.Contains(err.Error(), "ErrorFolderExists") || strings.Contains(err.Error(), "status 409") {
			return nil
		}
		return err
	}

	c.mu.Lock()
	c.folderIDs[strings.ToLower(name)] = created.ID
	c.mu.Unlock()
	return nil
}

// ListFolders lists the mailbox's folder names, caching their ids.
func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	endpoint := c.baseURL + "/me/mailFolders?$top=100"
	var names []string
	for endpoint != "" {
		var page folderListPage
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		c.mu.Lock()
		for _, f := range page.Value {
			c.folderIDs[strings.ToLower(f.DisplayName)] = f.ID
			names = append(names, f.DisplayName)
		}
		c.mu.Unlock()
		endpoint = page.NextLink
	}
	return names, nil
}

// resolveFolderID maps a folder display name to its id, with a cache. Inbox
// is addressed through its well-known name without a lookup.
func (c *Client) resolveFolderID(ctx context.Context, name string) (string, error) {
	if strings.EqualFold(name, "inbox") {
		return "inbox", nil
	}

	c.mu.Lock()
	id, ok := c.folderIDs[strings.ToLower(name)]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := c.ListFolders(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	id, ok = c.folderIDs[strings.ToLower(name)]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", backend.ErrFolderNotFound, name)
	}
	return id, nil
}

// rawItemFromWire converts a wire message into the backend's one-pass item.
//
// The cloud protocol does not expose a byte size on messages, so Size stays
// zero on this backend.
func rawItemFromWire(msg *wireMessage) *backend.RawItem {
	raw := &backend.RawItem{
		ID:             msg.ID,
		Subject:        msg.Subject,
		IsRead:         msg.IsRead,
		RawImportance:  msg.Importance,
		HasAttachments: msg.HasAttachments,
		Categories:     msg.Categories,
		ConversationID: msg.ConversationID,
		Properties:     bagFromExtendedProperties(msg.ExtendedProperties),
	}

	if msg.From != nil {
		raw.SenderName = msg.From.EmailAddress.Name
		raw.SenderAddress = msg.From.EmailAddress.Address
	}
	if msg.Body != nil {
		raw.FullContent = msg.Body.Content
	}
	if raw.FullContent == "" {
		raw.FullContent = msg.BodyPreview
	}
	if received, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		raw.ReceivedAt = received
	}
	if sent, err := time.Parse(time.RFC3339, msg.SentDateTime); err == nil {
		raw.SentAt = &sent
	}

	appendRole := func(wrappers []addressWrapper, role backend.Role) {
		for _, w := range wrappers {
			raw.Participants = append(raw.Participants, backend.RawParticipant{
				DisplayName: w.EmailAddress.Name,
				Address:     w.EmailAddress.Address,
				Role:        role,
			})
		}
	}
	appendRole(msg.ToRecipients, backend.RoleTo)
	appendRole(msg.CcRecipients, backend.RoleCc)
	appendRole(msg.BccRecipients, backend.RoleBcc)

	return raw
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// doJSON performs one authenticated API call.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("cloud authorization unavailable: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// statusError maps API error responses to the backend's sentinel errors where
// one applies.
func (c *Client) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var apiErr apiError
	_ = json.Unmarshal(detail, &apiErr)

	code := apiErr.Error.Code
	switch {
	case resp.StatusCode == http.StatusGone || code == "syncStateNotFound" || code == "resyncRequired":
		return backend.ErrCursorInvalid
	case resp.StatusCode == http.StatusNotFound && code == "ErrorFolderNotFound":
		return backend.ErrFolderNotFound
	case resp.StatusCode == http.StatusNotFound:
		return backend.ErrItemNotFound
	}

	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(detail))
	}
	return fmt.Errorf("cloud API returned status %d (%s): %s", resp.StatusCode, code, msg)
}
