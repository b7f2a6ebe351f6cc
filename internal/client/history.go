// ABOUTME: Paged reads of a table through the REST select endpoint
// ABOUTME: Parses the Content-Range header for the collection's total row count

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

// Query selects one page of a topic in created_at order.
type Query struct {
	Topic  chat.Topic
	Limit  int
	Offset int
}

// Page is one page of rows plus the total the server reported.
type Page struct {
	Rows  []chat.Message
	Total int
}

// Select reads one page of q.Topic.
func (c *Client) Select(ctx context.Context, q Query) (*Page, error) {
	params := url.Values{}
	params.Set("order", "created_at.asc")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Topic.Participant != "" {
		params.Set("participant", q.Topic.Participant)
	}

	path := "/rest/v1/" + string(q.Topic.Collection) + "?" + params.Encode()
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	rows, err := chat.DecodeRows(q.Topic.Collection, data)
	if err != nil {
		return nil, err
	}

	total, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return nil, err
	}

	return &Page{Rows: rows, Total: total}, nil
}

// parseContentRange returns the total from "first-last/total" or "*/total".
func parseContentRange(h string) (int, error) {
	if h == "" {
		return 0, fmt.Errorf("missing Content-Range header")
	}
	i := strings.LastIndex(h, "/")
	if i < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}
	total, err := strconv.Atoi(h[i+1:])
	if err != nil || total < 0 {
		return 0, fmt.Errorf("malformed Content-Range total %q", h)
	}
	return total, nil
}
