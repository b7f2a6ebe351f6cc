// ABOUTME: Presence channel subscription feeding the session's Tracker
// ABOUTME: Resets on every activation and rejoins with backoff after a lost connection

package session

import (
	"errors"

	"github.com/Danieldaguy/Chatroom-Testing/internal/realtime"
)

// joinPresence subscribes to the room's presence channel as the current user.
func (s *Session) joinPresence() {
	if s.username == "" {
		return
	}
	s.presenceGen++
	gen := s.presenceGen
	guard := func(fn func()) {
		s.post(func() {
			if gen == s.presenceGen {
				fn()
			}
		})
	}

	sub, err := s.rt.SubscribePresence(s.cfg.Room, s.username, realtime.Handler{
		OnJoin: func(user string) {
			guard(func() {
				if s.tracker.Join(user) {
					s.notifyPresence()
				}
			})
		},
		OnLeave: func(user string) {
			guard(func() {
				if s.tracker.Leave(user) {
					s.notifyPresence()
				}
			})
		},
		// The server replays current members after every join, so the
		// set is rebuilt from scratch.
		OnActive: func(resumed bool) {
			guard(func() {
				s.presenceRetries = 0
				if s.tracker.Reset() {
					s.notifyPresence()
				}
			})
		},
		OnError: func(err error) {
			guard(func() { s.presenceLost(err) })
		},
	})
	if err != nil {
		s.presenceLost(err)
		return
	}
	s.presenceSub = sub
}

func (s *Session) presenceLost(err error) {
	s.presenceSub = nil
	if s.tracker.Reset() {
		s.notifyPresence()
	}

	if errors.Is(err, realtime.ErrClosed) || s.presenceRetries >= s.cfg.ResubscribeAttempts {
		s.logger.Warn("presence unavailable", "room", s.cfg.Room, "error", err)
		return
	}

	s.presenceRetries++
	delay := s.backoff(0, s.presenceRetries)
	s.logger.Info("presence lost, rejoining", "room", s.cfg.Room, "attempt", s.presenceRetries, "delay", delay)

	gen := s.presenceGen
	s.presenceTimer = s.cfg.Clock.AfterFunc(delay, func() {
		s.post(func() {
			if gen == s.presenceGen && s.presenceSub == nil {
				s.joinPresence()
			}
		})
	})
}

// leavePresence closes the presence subscription and clears the set.
func (s *Session) leavePresence() {
	s.presenceGen++
	s.presenceRetries = 0
	if s.presenceTimer != nil {
		s.presenceTimer.Stop()
		s.presenceTimer = nil
	}
	if s.presenceSub != nil {
		s.presenceSub.Close()
		s.presenceSub = nil
	}
	if s.tracker.Reset() {
		s.notifyPresence()
	}
}
