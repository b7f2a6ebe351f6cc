// ABOUTME: Row inserts through the REST insert endpoint
// ABOUTME: Returns the stored row, which for a repeated client_id is the original

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

// Insert stores msg in its collection and returns the stored row.
func (c *Client) Insert(ctx context.Context, msg chat.Message) (chat.Message, error) {
	body, err := chat.EncodeRecord(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("encoding row: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/rest/v1/"+string(msg.Collection), bytes.NewReader(body), "application/json")
	if err != nil {
		return chat.Message{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return chat.Message{}, fmt.Errorf("reading response: %w", err)
	}

	rows, err := chat.DecodeRows(msg.Collection, data)
	if err != nil {
		return chat.Message{}, err
	}
	if len(rows) != 1 {
		return chat.Message{}, fmt.Errorf("insert returned %d rows", len(rows))
	}
	return rows[0], nil
}
