// ABOUTME: Outgoing commands: room and direct message sends with optimistic echo, avatar upload
// ABOUTME: Matches server echoes to provisional entries by client token, then by author and body

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Danieldaguy/Chatroom-Testing/internal/blob"
	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/client"
	"github.com/Danieldaguy/Chatroom-Testing/internal/reconcile"
	"github.com/Danieldaguy/Chatroom-Testing/internal/snapshot"
)

// ErrSendFailed is returned when the backend did not store a message. The
// draft is kept so the send can be retried.
var ErrSendFailed = errors.New("send failed")

// Backend is the database and blob boundary a Session writes through.
// *client.Client implements it.
type Backend interface {
	snapshot.Source
	Insert(ctx context.Context, msg chat.Message) (chat.Message, error)
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

var _ Backend = (*client.Client)(nil)

// SendMessage posts body to the room as the current user.
func (s *Session) SendMessage(ctx context.Context, body string) error {
	return s.send(ctx, chat.Message{Collection: chat.CollectionMessages, Body: body})
}

// SendDirectMessage posts body to recipient as the current user.
func (s *Session) SendDirectMessage(ctx context.Context, recipient, body string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("%w: recipient is required", chat.ErrValidation)
	}
	return s.send(ctx, chat.Message{Collection: chat.CollectionDirectMessages, Recipient: recipient, Body: body})
}

func (s *Session) send(ctx context.Context, msg chat.Message) error {
	if !s.call(func() {
		msg.Author = s.username
		if msg.Collection == chat.CollectionMessages {
			msg.AvatarURL = s.avatarURL
		}
		msg.ClientID = s.resendToken(msg)
	}) {
		return ErrClosed
	}
	if err := chat.ValidateDraft(msg.Author, msg.Body); err != nil {
		return err
	}

	if msg.ClientID == "" {
		msg.ClientID = uuid.NewString()
	}
	msg.CreatedAt = s.cfg.Clock.Now().UTC()
	s.post(func() { s.applyLocal(msg) })

	stored, err := s.backend.Insert(ctx, msg)
	if err != nil {
		s.logger.Warn("send failed", "collection", msg.Collection, "error", err)
		s.post(func() { s.abandon(msg) })
		return translateSendError(err)
	}

	s.post(func() { s.confirm(stored, msg.Body) })
	return nil
}

func translateSendError(err error) error {
	var se *client.StatusError
	if errors.As(err, &se) && se.Code == http.StatusBadRequest {
		return chat.Translate(chat.ErrValidation, err)
	}
	return chat.Translate(ErrSendFailed, err)
}

// UpdateAvatar uploads a profile picture and, on success, attaches its URL
// to later room messages. Failures wrap chat.ErrUpload and change nothing.
func (s *Session) UpdateAvatar(ctx context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, blob.MaxObjectSize+1))
	if err != nil {
		return "", chat.Translate(chat.ErrUpload, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: file is empty", chat.ErrUpload)
	}
	if len(data) > blob.MaxObjectSize {
		return "", fmt.Errorf("%w: file exceeds %d bytes", chat.ErrUpload, blob.MaxObjectSize)
	}

	key := blob.AvatarKey(filepath.Base(filename), s.cfg.Clock.Now())
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	url, err := s.backend.Upload(ctx, blob.AvatarBucket, key, data, contentType)
	if err != nil {
		s.logger.Warn("avatar upload failed", "key", key, "error", err)
		return "", chat.Translate(chat.ErrUpload, err)
	}

	if !s.call(func() { s.avatarURL = url }) {
		return "", ErrClosed
	}
	s.logger.Info("avatar updated", "url", url)
	return url, nil
}

// resendToken returns the client token of the last failed send when msg
// resends the same text, so the backend can recognize a send that was
// stored even though its response was lost.
func (s *Session) resendToken(msg chat.Message) string {
	f := s.failed
	if f.ClientID == "" || f.Collection != msg.Collection || f.Author != msg.Author ||
		f.Recipient != msg.Recipient || f.Body != msg.Body {
		return ""
	}
	return f.ClientID
}

// applyLocal inserts a provisional entry.
func (s *Session) applyLocal(msg chat.Message) {
	if !msg.Provisional() {
		s.applyDelta(reconcile.Delta{Collection: msg.Collection, Inserts: []chat.Message{msg}, Status: s.status[msg.Collection]})
		return
	}
	if msg.ClientID == "" {
		msg.ClientID = uuid.NewString()
	}
	v := s.views[msg.Collection]
	if v == nil {
		return
	}
	// a resend whose first attempt was stored is already on screen
	if _, ok := v.Find(func(m chat.Message) bool { return !m.Provisional() && m.ClientID == msg.ClientID }); ok {
		return
	}
	if v.Insert(msg) {
		s.pending[msg.ClientID] = msg
		s.notifyView(msg.Collection)
	}
}

// confirm settles a stored row returned by the insert itself, in case the
// feed echo is late or the feed is down.
func (s *Session) confirm(stored chat.Message, body string) {
	if v := s.views[stored.Collection]; v != nil && s.settle(v, stored) {
		s.notifyView(stored.Collection)
	}
	if s.failed.ClientID != "" && s.failed.ClientID == stored.ClientID {
		s.failed = chat.Message{}
	}
	if s.draft == body {
		s.draft = ""
	}
}

// abandon drops the provisional entry of a failed send and keeps its text
// as the draft, unless the user has typed something else since.
func (s *Session) abandon(msg chat.Message) {
	if p, ok := s.pending[msg.ClientID]; ok {
		delete(s.pending, msg.ClientID)
		if v := s.views[p.Collection]; v != nil && v.Remove(p.Key()) {
			s.notifyView(p.Collection)
		}
	}
	s.failed = msg
	if s.draft == "" || s.draft == msg.Body {
		s.draft = msg.Body
	}
}

// dropPending forgets the provisional entries of collection c.
func (s *Session) dropPending(c chat.Collection) {
	for token, p := range s.pending {
		if p.Collection == c {
			delete(s.pending, token)
		}
	}
	if s.failed.Collection == c {
		s.failed = chat.Message{}
	}
}

// settle inserts a confirmed row, removing the provisional entry it echoes.
// It reports whether the view changed.
func (s *Session) settle(v *reconcile.View, m chat.Message) bool {
	removed := false
	if p, ok := s.echoOf(m); ok {
		delete(s.pending, p.ClientID)
		removed = v.Remove(p.Key())
	}
	return v.Insert(m) || removed
}

// echoOf finds the provisional entry m confirms. Rows carrying a client
// token match on it alone; rows without one match on author, recipient
// and body within EchoWindow, earliest entry first.
func (s *Session) echoOf(m chat.Message) (chat.Message, bool) {
	if m.Provisional() {
		return chat.Message{}, false
	}
	if m.ClientID != "" {
		p, ok := s.pending[m.ClientID]
		return p, ok && p.Collection == m.Collection
	}

	var best chat.Message
	found := false
	for _, p := range s.pending {
		if p.Collection != m.Collection || p.Author != m.Author || p.Recipient != m.Recipient || p.Body != m.Body {
			continue
		}
		d := p.CreatedAt.Sub(m.CreatedAt)
		if d > s.cfg.EchoWindow || d < -s.cfg.EchoWindow {
			continue
		}
		if !found || chat.Less(p, best) {
			best, found = p, true
		}
	}
	return best, found
}
