// ABOUTME: Ordered point-in-time read of a collection for reconciliation
// ABOUTME: Pages through the REST select endpoint and rejects partial or unordered results

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/client"
)

// DefaultPageSize is the number of rows requested per page.
const DefaultPageSize = 500

// errPartial marks a read that ended before the reported total.
var errPartial = errors.New("snapshot ended before reported total")

// Source is the database read boundary.
type Source interface {
	Select(ctx context.Context, q client.Query) (*client.Page, error)
}

// Loader reads a whole collection in created_at order.
type Loader struct {
	src      Source
	pageSize int
	logger   *slog.Logger
}

// New creates a Loader. A pageSize of zero selects DefaultPageSize.
func New(src Source, pageSize int, logger *slog.Logger) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		src:      src,
		pageSize: pageSize,
		logger:   logger.With("component", "snapshot"),
	}
}

// Load returns every row of topic in canonical order. Any failure, including
// a result shorter than the total the server reported or rows out of order,
// is returned as chat.ErrTransientFetch.
func (l *Loader) Load(ctx context.Context, topic chat.Topic) ([]chat.Message, error) {
	rows, err := l.load(ctx, topic)
	if err != nil {
		l.logger.Debug("snapshot failed", "topic", topic.String(), "error", err)
		return nil, chat.Translate(chat.ErrTransientFetch, err)
	}
	l.logger.Debug("snapshot loaded", "topic", topic.String(), "rows", len(rows))
	return rows, nil
}

func (l *Loader) load(ctx context.Context, topic chat.Topic) ([]chat.Message, error) {
	var out []chat.Message
	for {
		page, err := l.src.Select(ctx, client.Query{
			Topic:  topic,
			Limit:  l.pageSize,
			Offset: len(out),
		})
		if err != nil {
			return nil, fmt.Errorf("selecting offset %d: %w", len(out), err)
		}

		for _, m := range page.Rows {
			if n := len(out); n > 0 && chat.Less(m, out[n-1]) {
				return nil, fmt.Errorf("row %d out of order", m.ID)
			}
			out = append(out, m)
		}

		// rows inserted while paging raise the total; keep reading until
		// we have seen it
		if len(out) >= page.Total {
			return out, nil
		}
		if len(page.Rows) == 0 {
			return nil, fmt.Errorf("%w: have %d of %d", errPartial, len(out), page.Total)
		}
	}
}
