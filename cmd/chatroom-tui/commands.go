// ABOUTME: Slash commands and screen output for chatroom-tui
// ABOUTME: Prints each settled message once, plus presence and sync status lines

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/reconcile"
)

// commander is the part of session.Session the input loop drives.
type commander interface {
	SetDraft(text string)
	SendMessage(ctx context.Context, body string) error
	SendDirectMessage(ctx context.Context, recipient, body string) error
	UpdateAvatar(ctx context.Context, filename string, r io.Reader) (string, error)
	SetUsername(name string) error
	Username() string
	Presence() []string
}

const helpText = `Commands:
  <text>                 send to the room
  /dm <user> <text>      send a direct message
  /avatar <file>         upload a profile picture
  /who                   list users online
  /name <user>           change your username
  /help                  show this help
  /quit                  leave
`

// handleLine runs one line of input. It reports whether the user asked to quit.
func handleLine(ctx context.Context, s commander, screen *renderer, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		s.SetDraft(line)
		return false, s.SendMessage(ctx, line)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		screen.printf(color.FgHiBlack, "%s", helpText)

	case "/dm":
		recipient, body, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(body) == "" {
			return false, fmt.Errorf("usage: /dm <user> <text>")
		}
		s.SetDraft(body)
		return false, s.SendDirectMessage(ctx, recipient, strings.TrimSpace(body))

	case "/avatar":
		if rest == "" {
			return false, fmt.Errorf("usage: /avatar <file>")
		}
		f, err := os.Open(rest)
		if err != nil {
			return false, fmt.Errorf("opening %s: %w", rest, err)
		}
		defer f.Close()
		url, err := s.UpdateAvatar(ctx, rest, f)
		if err != nil {
			return false, err
		}
		screen.printf(color.FgGreen, "avatar updated: %s\n", url)

	case "/who":
		users := s.Presence()
		if len(users) == 0 {
			screen.printf(color.FgHiBlack, "nobody online\n")
		} else {
			screen.printf(color.FgHiBlack, "online: %s\n", strings.Join(users, ", "))
		}

	case "/name":
		if rest == "" {
			return false, fmt.Errorf("usage: /name <user>")
		}
		if err := s.SetUsername(rest); err != nil {
			return false, err
		}
		screen.printf(color.FgGreen, "you are now %s\n", s.Username())

	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

// renderer writes to the terminal. Session callbacks and the input loop
// both print through it.
type renderer struct {
	mu   sync.Mutex
	out  io.Writer
	seen map[string]struct{}
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, seen: make(map[string]struct{})}
}

func (r *renderer) printf(attr color.Attribute, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = color.New(attr).Fprintf(r.out, format, args...)
}

// onView prints confirmed messages not printed before. Provisional entries
// are skipped; they print once the server has stored them.
func (r *renderer) onView(c chat.Collection, msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		if m.Provisional() {
			continue
		}
		k := string(c) + "/" + m.Key()
		if _, ok := r.seen[k]; ok {
			continue
		}
		r.seen[k] = struct{}{}

		stamp := color.HiBlackString(m.CreatedAt.Local().Format("15:04"))
		if c == chat.CollectionDirectMessages {
			fmt.Fprintf(r.out, "%s %s %s → %s: %s\n", stamp, color.MagentaString("[dm]"),
				color.CyanString(m.Author), color.CyanString(m.Recipient), m.Body)
			continue
		}
		author := color.CyanString(m.Author)
		if m.Role != "" {
			author += color.HiBlackString(" (" + m.Role + ")")
		}
		fmt.Fprintf(r.out, "%s %s: %s\n", stamp, author, m.Body)
	}
}

func (r *renderer) onPresence(users []string) {
	if len(users) == 0 {
		return
	}
	r.printf(color.FgHiBlack, "online: %s\n", strings.Join(users, ", "))
}

func (r *renderer) onStatus(c chat.Collection, st reconcile.Status) {
	switch st {
	case reconcile.StatusLive:
		r.printf(color.FgGreen, "[%s] live\n", c)
	case reconcile.StatusDegraded:
		r.printf(color.FgYellow, "[%s] history unavailable, showing new messages only\n", c)
	case reconcile.StatusReconnecting:
		r.printf(color.FgYellow, "[%s] reconnecting...\n", c)
	case reconcile.StatusOffline:
		r.printf(color.FgRed, "[%s] offline\n", c)
	}
}
