package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Message is one mirror-relevant message as produced by the list and delta
// endpoints, converted out of its wire shape.
type Message struct {
	ID             string
	Removed        bool
	Subject        string
	SenderName     string
	SenderAddress  string
	Preview        string
	Content        string
	ReceivedAt     time.Time
	SentAt         *time.Time
	IsRead         bool
	Importance     string
	HasAttachments bool
	ConversationID string
	Categories     []string
}

// DeltaPage is one page of a delta walk. NextLink means "more of this page
// set"; DeltaLink means "caught up, store this as the new cursor". Exactly
// one of the two is set on a well-formed response.
type DeltaPage struct {
	Messages  []Message
	NextLink  string
	DeltaLink string
}

// Fields requested on list and delta queries, mirroring what the local
// mirror table stores.
const messageSelectFields = "id,subject,bodyPreview,body,from,receivedDateTime,sentDateTime,isRead,importance,hasAttachments,conversationId,categories"

// ListMessagesSince walks the plain filtered list query over the trailing
// window, invoking fn once per message, following pagination links.
func (c *Client) ListMessagesSince(ctx context.Context, since time.Time, fn func(Message) error) error {
	query := url.Values{}
	query.Set("$filter", "receivedDateTime ge "+since.UTC().Format(time.RFC3339))
	query.Set("$select", messageSelectFields)
	query.Set("$top", "100")
	endpoint := c.baseURL + "/me/messages?" + query.Encode()

	for endpoint != "" {
		var page messageList
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return err
		}
		for i := range page.Value {
			if err := fn(messageFromWire(&page.Value[i])); err != nil {
				return err
			}
		}
		endpoint = page.NextLink
	}
	return nil
}

// Delta fetches one page of the delta query. An empty link starts a fresh
// delta walk from the beginning. A rejected or expired continuation token
// surfaces as backend.ErrCursorInvalid.
func (c *Client) Delta(ctx context.Context, link string) (*DeltaPage, error) {
	endpoint := link
	if endpoint == "" {
		endpoint = c.baseURL + "/me/messages/delta?$select=" + messageSelectFields
	}

	var page messageList
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}

	result := &DeltaPage{
		NextLink:  page.NextLink,
		DeltaLink: page.DeltaLink,
	}
	for i := range page.Value {
		result.Messages = append(result.Messages, messageFromWire(&page.Value[i]))
	}
	return result, nil
}

// GetMessage fetches one message in its mirror shape, for targeted re-sync.
func (c *Client) GetMessage(ctx context.Context, id string) (Message, error) {
	endpoint := fmt.Sprintf("%s/me/messages/%s?$select=%s", c.baseURL, url.PathEscape(id), messageSelectFields)
	var msg wireMessage
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &msg); err != nil {
		return Message{}, err
	}
	return messageFromWire(&msg), nil
}

func messageFromWire(msg *wireMessage) Message {
	m := Message{
		ID:             msg.ID,
		Removed:        msg.Removed != nil,
		Subject:        msg.Subject,
		Preview:        msg.BodyPreview,
		IsRead:         msg.IsRead,
		Importance:     msg.Importance,
		HasAttachments: msg.HasAttachments,
		ConversationID: msg.ConversationID,
		Categories:     msg.Categories,
	}
	if msg.From != nil {
		m.SenderName = msg.From.EmailAddress.Name
		m.SenderAddress = msg.From.EmailAddress.Address
	}
	if msg.Body != nil {
		m.Content = msg.Body.Content
	}
	if received, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		m.ReceivedAt = received
	}
	if sent, err := time.Parse(time.RFC3339, msg.SentDateTime); err == nil {
		m.SentAt = &sent
	}
	return m
}
