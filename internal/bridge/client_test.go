package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
		check   func(t *testing.T, account *AccountInfo)
	}{
		{
			name: "connected bridge reports the account",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/status", r.URL.Path)
				assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
				_ = json.NewEncoder(w).Encode(statusResponse{
					Connected: true,
					Account:   AccountInfo{DisplayName: "Alice", Address: "alice@example.com"},
				})
			},
			check: func(t *testing.T, account *AccountInfo) {
				assert.Equal(t, "Alice", account.DisplayName)
				assert.Equal(t, "alice@example.com", account.Address)
			},
		},
		{
			name: "bridge up but mail client disconnected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(statusResponse{Connected: false})
			},
			wantErr: "not connected",
		},
		{
			name: "bridge error surfaces",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "automation busy", http.StatusServiceUnavailable)
			},
			wantErr: "status 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			account, err := c.Status(context.Background())

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, account)
		})
	}
}

func TestStatusBridgeDown(t *testing.T) {
	// Point at a closed port.
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url)
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge unreachable")
}

func TestListHandles(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/folders/Inbox/items", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		// Out of order on purpose; the client re-sorts.
		_ = json.NewEncoder(w).Encode(itemListResponse{Items: []itemHandleJSON{
			{ID: "old", ReceivedAt: base},
			{ID: "newest", ReceivedAt: base.Add(2 * time.Hour)},
			{ID: "mid", ReceivedAt: base.Add(time.Hour)},
		}})
	}))

	handles, err := c.ListHandles(context.Background(), "Inbox", 2)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, "newest", handles[0].ID)
	assert.Equal(t, "mid", handles[1].ID)
}

func TestListHandlesFolderNotFound(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.ListHandles(context.Background(), "Nope", 10)
	assert.ErrorIs(t, err, backend.ErrFolderNotFound)
}

func TestLoadItem(t *testing.T) {
	received := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mime := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Numbers\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"The numbers are attached.\r\n"

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/items/item-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(bridgeItem{
			ID:            "item-1",
			Subject:       "Numbers",
			SenderName:    "Alice",
			SenderAddress: "alice@example.com",
			Recipients: []bridgeRecipient{
				{Name: "Bob", Address: "bob@example.com", Type: 1},
				{Name: "Carol", Address: "carol@example.com", Type: 2},
				{Name: "Dave", Address: "dave@example.com", Type: 3},
			},
			Body:           "fallback body",
			MIME:           mime,
			ReceivedAt:     received,
			Unread:         true,
			Importance:     2,
			HasAttachments: true,
			Categories:     "COS_Actions, Follow up",
			ConversationID: "conv-1",
			Size:           2048,
			Properties: []propertyJSON{
				{Name: "COS.Summary", Value: "stored summary"},
			},
		})
	}))

	raw, err := c.LoadItem(context.Background(), "item-1")
	require.NoError(t, err)

	assert.Equal(t, "item-1", raw.ID)
	assert.Equal(t, "Numbers", raw.Subject)
	// The MIME text part wins over the body field.
	assert.Contains(t, raw.FullContent, "The numbers are attached.")
	assert.NotContains(t, raw.FullContent, "fallback body")
	assert.False(t, raw.IsRead)
	assert.Equal(t, "2", raw.RawImportance)
	assert.Equal(t, models.ImportanceHigh, models.ParseImportance(raw.RawImportance))
	assert.Equal(t, []string{"COS_Actions", "Follow up"}, raw.Categories)
	assert.Equal(t, int64(2048), raw.Size)

	require.Len(t, raw.Participants, 3)
	assert.Equal(t, backend.RoleTo, raw.Participants[0].Role)
	assert.Equal(t, backend.RoleCc, raw.Participants[1].Role)
	assert.Equal(t, backend.RoleBcc, raw.Participants[2].Role)

	// Properties from the one-pass load support both access styles.
	n, err := raw.Properties.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	name, value, err := raw.Properties.At(0)
	require.NoError(t, err)
	assert.Equal(t, "COS.Summary", name)
	assert.Equal(t, "stored summary", value)
}

func TestLoadItemWithoutMIME(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bridgeItem{ID: "item-1", Body: "plain body"})
	}))

	raw, err := c.LoadItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, "plain body", raw.FullContent)
}

func TestLoadItemNotFound(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.LoadItem(context.Background(), "gone")
	assert.ErrorIs(t, err, backend.ErrItemNotFound)
}

func TestPropertiesLiveBag(t *testing.T) {
	props := []propertyJSON{
		{Name: "COS.Priority", Value: "HIGH"},
		{Name: "COS.Summary", Value: "live summary"},
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/items/item-1/exists":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "item-1"})
		case "/v1/items/item-1/properties":
			_ = json.NewEncoder(w).Encode(propertyListResponse{Properties: props})
		case "/v1/items/item-1/properties/count":
			_ = json.NewEncoder(w).Encode(propertyCountResponse{Count: len(props)})
		case "/v1/items/item-1/properties/1":
			_ = json.NewEncoder(w).Encode(props[1])
		default:
			http.NotFound(w, r)
		}
	}))

	bag, err := c.Properties(context.Background(), "item-1")
	require.NoError(t, err)

	var names []string
	require.NoError(t, bag.ForEach(func(name, value string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"COS.Priority", "COS.Summary"}, names)

	n, err := bag.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	name, value, err := bag.At(1)
	require.NoError(t, err)
	assert.Equal(t, "COS.Summary", name)
	assert.Equal(t, "live summary", value)
}

func TestPropertiesItemVanished(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.Properties(context.Background(), "gone")
	assert.ErrorIs(t, err, backend.ErrItemNotFound)
}

func TestSetProperties(t *testing.T) {
	var got setPropertiesRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/items/item-1/properties", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))

	err := c.SetProperties(context.Background(), "item-1", map[string]string{
		"COS.Summary":  "s",
		"COS.Priority": "HIGH",
	})
	require.NoError(t, err)

	// Sent in sorted order for deterministic bridge-side logging.
	require.Len(t, got.Properties, 2)
	assert.Equal(t, "COS.Priority", got.Properties[0].Name)
	assert.Equal(t, "COS.Summary", got.Properties[1].Name)
}

func TestMoveItem(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/items/item-1/move", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.MoveItem(context.Background(), "item-1", "COS_Actions"))
	assert.Equal(t, "COS_Actions", got["folder"])
}

func TestCreateFolder(t *testing.T) {
	t.Run("creates a new folder", func(t *testing.T) {
		var got map[string]string
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/folders", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
		}))

		require.NoError(t, c.CreateFolder(context.Background(), "COS_Actions", ""))
		assert.Equal(t, "COS_Actions", got["name"])
	})

	t.Run("existing folder is not an error", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "folder exists", http.StatusConflict)
		}))
		assert.NoError(t, c.CreateFolder(context.Background(), "COS_Actions", ""))
	})

	t.Run("other failures surface", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no permission", http.StatusForbidden)
		}))
		assert.Error(t, c.CreateFolder(context.Background(), "COS_Actions", ""))
	})
}

func TestListFolders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"folders":[{"name":"Inbox"},{"name":"COS_Actions"}]}`))
	}))

	folders, err := c.ListFolders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Inbox", "COS_Actions"}, folders)
}
