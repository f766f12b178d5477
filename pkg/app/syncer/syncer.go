// Package syncer reconciles the client's chat sessions with the remote
// store and the local cache. The running client is authoritative: remote
// failures degrade to the cache on load and are logged, never surfaced,
// on save.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/pilot-dev/pilot/pkg/app/state"
)

// RemoteStore is the remote session-store surface the syncer depends on.
type RemoteStore interface {
	GetUserSessions(ctx context.Context, userID string) ([]state.ChatSession, error)
	SaveUserSessions(ctx context.Context, userID string, sessions []state.ChatSession) error
}

// LocalCache is the local fallback store.
type LocalCache interface {
	SaveSessions(userID string, sessions []state.ChatSession) error
	LoadSessions(userID string) ([]state.ChatSession, error)
}

// Syncer keeps the store's session list, the local cache, and the remote
// store loosely consistent.
type Syncer struct {
	store  *state.Store
	remote RemoteStore
	cache  LocalCache
	log    logr.Logger
	now    func() time.Time

	mu          sync.Mutex
	fingerprint string
}

// New creates a Syncer.
func New(store *state.Store, remote RemoteStore, cache LocalCache, log logr.Logger) *Syncer {
	return &Syncer{
		store:  store,
		remote: remote,
		cache:  cache,
		log:    log.WithName("session-syncer"),
		now:    time.Now,
	}
}

// NewChatSession builds a fresh session for a user. The title defaults to
// the creation time; the chat id is generated client-side.
func (s *Syncer) NewChatSession(userID string) state.ChatSession {
	now := s.now().UTC()
	return state.ChatSession{
		ChatID:       fmt.Sprintf("chat_%d_%s", now.UnixMilli(), uuid.NewString()[:8]),
		UserID:       userID,
		Title:        now.Format("2006-01-02 15:04"),
		History:      []state.ChatMessage{},
		CreatedAt:    now.Format(time.RFC3339),
		LastActive:   now.Format(time.RFC3339),
		MessageCount: 0,
	}
}

// LoadOnLogin populates the session list after authentication: remote
// first, local cache on any remote failure or empty answer, and a fresh
// session when neither source yields one. The first session is activated
// when none is. Remote trouble never blocks login.
func (s *Syncer) LoadOnLogin(ctx context.Context, userID string) error {
	sessions, err := s.remote.GetUserSessions(ctx, userID)
	if err != nil || len(sessions) == 0 {
		if err != nil {
			s.log.Info("remote session load failed, falling back to cache", "reason", err.Error())
		}
		cached, cacheErr := s.cache.LoadSessions(userID)
		if cacheErr != nil {
			s.log.Info("cache session load failed", "reason", cacheErr.Error())
		}
		sessions = cached
	}

	if len(sessions) == 0 {
		_, err := s.CreateSession(ctx, userID)
		return err
	}

	s.store.Dispatch(state.SetChatSessions{Sessions: sessions})
	if s.store.State().Current == nil {
		s.store.Dispatch(state.SetCurrentSession{Current: state.Project(sessions[0])})
	}

	// Refresh the cache with whichever source answered.
	if err := s.cache.SaveSessions(userID, sessions); err != nil {
		s.log.Info("cache write-through failed", "reason", err.Error())
	}
	return nil
}

// CreateSession appends a fresh session, activates it, and persists. The
// local append is synchronous and optimistic; persistence failures do not
// roll it back.
func (s *Syncer) CreateSession(ctx context.Context, userID string) (state.ChatSession, error) {
	session := s.NewChatSession(userID)
	s.store.Dispatch(state.CreateChatSession{Session: session})
	if err := s.Persist(ctx, userID); err != nil {
		s.log.Info("persisting new session failed", "reason", err.Error())
	}
	return session, nil
}

// DeleteSession removes a session and, when the removed session was
// active, selects a replacement: the first remaining session, or a fresh
// one if none remain. The active projection never points at a removed id.
func (s *Syncer) DeleteSession(ctx context.Context, userID, chatID string) error {
	wasActive := false
	if cur := s.store.State().Current; cur != nil && cur.ChatID == chatID {
		wasActive = true
	}

	s.store.Dispatch(state.RemoveSession{ChatID: chatID})

	if wasActive {
		remaining := s.store.State().Sessions
		if len(remaining) > 0 {
			s.store.Dispatch(state.SetCurrentSession{Current: state.Project(remaining[0])})
		} else {
			if _, err := s.CreateSession(ctx, userID); err != nil {
				return err
			}
			return nil
		}
	}

	if err := s.Persist(ctx, userID); err != nil {
		s.log.Info("persisting session delete failed", "reason", err.Error())
	}
	return nil
}

// ClearHistory truncates the session's history in place and persists.
func (s *Syncer) ClearHistory(ctx context.Context, userID, chatID string) error {
	s.store.Dispatch(state.ClearHistory{
		ChatID: chatID,
		At:     s.now().UTC().Format(time.RFC3339),
	})
	if err := s.Persist(ctx, userID); err != nil {
		s.log.Info("persisting history clear failed", "reason", err.Error())
	}
	return nil
}

// Persist writes the current session list to the local cache and the
// remote store. Failures from either side are aggregated and returned for
// logging; callers never roll back local state.
func (s *Syncer) Persist(ctx context.Context, userID string) error {
	sessions := s.store.State().Sessions

	var errs *multierror.Error
	if err := s.cache.SaveSessions(userID, sessions); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.remote.SaveUserSessions(ctx, userID, sessions); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Watch subscribes to the store and writes the session list through to
// the local cache and the remote store whenever its shape changes.
// Content-only changes from streaming frames are skipped; the seal at
// the end of the turn picks them up. The subscription ends when ctx is
// cancelled.
func (s *Syncer) Watch(ctx context.Context, userID string) {
	unsubscribe := s.store.Subscribe(func(snap state.AppState) {
		fp := fingerprint(snap.Sessions)

		s.mu.Lock()
		changed := fp != s.fingerprint
		s.fingerprint = fp
		s.mu.Unlock()

		if !changed || len(snap.Sessions) == 0 {
			return
		}
		if err := s.cache.SaveSessions(userID, snap.Sessions); err != nil {
			s.log.Info("cache write-through failed", "reason", err.Error())
		}
		if err := s.remote.SaveUserSessions(ctx, userID, snap.Sessions); err != nil {
			s.log.Info("remote write-through failed", "reason", err.Error())
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

func fingerprint(sessions []state.ChatSession) string {
	var b strings.Builder
	for _, session := range sessions {
		fmt.Fprintf(&b, "%s|%d|%s|%s;", session.ChatID, session.MessageCount, session.LastActive, session.Title)
	}
	return b.String()
}
