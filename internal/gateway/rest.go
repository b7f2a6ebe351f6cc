// ABOUTME: REST table endpoints: paged select and insert for messages and direct_messages
// ABOUTME: Select reports the collection total in a Content-Range header

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/store"
)

// OrderCanonical is the only row order the select endpoint serves.
const OrderCanonical = "created_at.asc"

// maxInsertBody bounds an insert request body.
const maxInsertBody = 64 << 10

func sendJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func tableFromRequest(r *http.Request) (chat.Collection, bool) {
	c := chat.Collection(mux.Vars(r)["table"])
	return c, c.Valid()
}

// contentRange renders first-last/total, or */total for an empty page.
func contentRange(offset, n, total int) string {
	if n == 0 {
		return fmt.Sprintf("*/%d", total)
	}
	return fmt.Sprintf("%d-%d/%d", offset, offset+n-1, total)
}

func parseNonNegative(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// handleSelect serves GET /rest/v1/{table}?order=created_at.asc&limit=&offset=&participant=
func (g *Gateway) handleSelect(w http.ResponseWriter, r *http.Request) {
	table, ok := tableFromRequest(r)
	if !ok {
		sendJSONError(w, http.StatusNotFound, "unknown table")
		return
	}

	if order := r.URL.Query().Get("order"); order != "" && order != OrderCanonical {
		sendJSONError(w, http.StatusBadRequest, "order must be "+OrderCanonical)
		return
	}

	limit, err := parseNonNegative(r, "limit")
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseNonNegative(r, "offset")
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := g.conversation.History(r.Context(), store.Query{
		Collection:  table,
		Participant: r.URL.Query().Get("participant"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		g.logger.Error("select failed", "table", table, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "select failed")
		return
	}

	rows := make([]json.RawMessage, 0, len(page.Messages))
	for _, m := range page.Messages {
		rec, err := chat.EncodeRecord(m)
		if err != nil {
			g.logger.Error("encoding row", "table", table, "id", m.ID, "error", err)
			sendJSONError(w, http.StatusInternalServerError, "select failed")
			return
		}
		rows = append(rows, rec)
	}

	w.Header().Set("Content-Range", contentRange(offset, len(rows), page.Total))
	writeJSON(w, http.StatusOK, rows)
}

// handleInsert serves POST /rest/v1/{table}. The body is one row. The
// response is a one-element array holding the stored row: 201 when it was
// created, 200 when the client_id had already been used.
func (g *Gateway) handleInsert(w http.ResponseWriter, r *http.Request) {
	table, ok := tableFromRequest(r)
	if !ok {
		sendJSONError(w, http.StatusNotFound, "unknown table")
		return
	}

	if !g.limiter.Allow(r) {
		g.metrics.rateLimited.Inc()
		sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInsertBody))
	if err != nil {
		sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	msg, err := chat.DecodeRecord(table, body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid row")
		return
	}

	res, err := g.conversation.Post(r.Context(), msg)
	if errors.Is(err, chat.ErrValidation) {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("insert failed", "table", table, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "insert failed")
		return
	}

	rec, err := chat.EncodeRecord(res.Message)
	if err != nil {
		sendJSONError(w, http.StatusInternalServerError, "insert failed")
		return
	}

	status := http.StatusCreated
	if res.Created {
		g.metrics.inserts.WithLabelValues(string(table)).Inc()
	} else {
		g.metrics.duplicateInserts.Inc()
		status = http.StatusOK
	}
	writeJSON(w, status, []json.RawMessage{rec})
}
