// Package directory holds the HTTP clients for the two external
// collaborators: the chat room directory (resolve/create a room) and the
// message history service (seed the message list on activation). Both are
// consumed as black boxes; nothing here is persisted by the core.
package directory

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

	"github.com/roamio/chatsync/internal/auth"
	"github.com/roamio/chatsync/internal/domain"
)

const requestTimeout = 10 * time.Second

// Client talks to the directory/history backend with bearer auth.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	http    *http.Client
}

// NewClient creates a directory client for the given base URL.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// resolveResponse mirrors the directory's room payload.
type resolveResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Participants []struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl"`
	} `json:"participants"`
}

// Resolve returns room metadata and participant identities for a trip, a
// direct peer, or a known room id. Called once per room activation.
func (c *Client) Resolve(ctx context.Context, selector domain.RoomSelector) (domain.Room, error) {
	if err := selector.Validate(); err != nil {
		return domain.Room{}, err
	}

	body, err := json.Marshal(selector)
	if err != nil {
		return domain.Room{}, fmt.Errorf("failed to marshal selector: %w", err)
	}

	var resp resolveResponse
	if err := c.call(ctx, http.MethodPost, "/rooms/resolve", bytes.NewReader(body), &resp); err != nil {
		return domain.Room{}, fmt.Errorf("room resolution failed: %w", err)
	}

	room := domain.Room{
		ID:   resp.ID,
		Kind: domain.RoomKind(resp.Kind),
	}
	for _, p := range resp.Participants {
		room.Participants = append(room.Participants, domain.Participant{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
		})
	}
	return room, nil
}

// historyMessage mirrors the history service's persisted message payload.
type historyMessage struct {
	ID               string    `json:"id"`
	RoomID           string    `json:"roomId"`
	SenderID         string    `json:"senderId"`
	MessageType      string    `json:"messageType"`
	Content          string    `json:"content"`
	SentAt           time.Time `json:"sentAt"`
	ReplyToMessageID string    `json:"replyToMessageId"`
	ServiceCardID    string    `json:"serviceCardId"`
}

// FetchMessages loads the persisted messages for a room, oldest first, all
// with status SENT. Used once per activation before live frames flow.
func (c *Client) FetchMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	var resp []historyMessage
	if err := c.call(ctx, http.MethodGet, "/rooms/"+roomID+"/messages", nil, &resp); err != nil {
		return nil, fmt.Errorf("history fetch failed: %w", err)
	}

	messages := make([]domain.Message, 0, len(resp))
	for _, m := range resp {
		messages = append(messages, domain.Message{
			ID:               m.ID,
			RoomID:           m.RoomID,
			SenderID:         m.SenderID,
			Kind:             domain.MessageKind(m.MessageType),
			Content:          m.Content,
			SentAt:           m.SentAt,
			Status:           domain.StatusSent,
			ReplyToMessageID: m.ReplyToMessageID,
			ServiceCardID:    m.ServiceCardID,
		})
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})
	return messages, nil
}

func (c *Client) call(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrAuthRequired
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
