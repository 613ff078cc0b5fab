// Package hub owns the mapping between transport-layer sessions and durable
// user identities, and the room-scoped fan-out of events to connected
// sessions. It is the single source of truth for the session<->user relation;
// no other package holds that map.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/repository"
)

var ErrSessionNotFound = errors.New("session not found")

// Emitter is the outbound half of one connected transport session. The ws
// layer implements it with a buffered write queue; tests implement it with a
// slice.
type Emitter interface {
	SessionID() string
	Emit(event string, payload any)
}

type session struct {
	emitter  Emitter
	userID   string
	username string
}

// Registry is the session registry (bidirectional session<->user map) plus
// presence broadcasting. All map mutations happen under mu; broadcasts that
// a mutation causes are serialized under emitMu so no presence event can
// observe a partially-updated map or overtake the event that caused it.
type Registry struct {
	log      *slog.Logger
	users    repository.UserRepository
	presence *Presence

	mu       sync.RWMutex
	sessions map[string]*session
	byUser   map[string]map[string]struct{}

	emitMu sync.Mutex
}

func NewRegistry(users repository.UserRepository, presence *Presence, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		users:    users,
		presence: presence,
		sessions: make(map[string]*session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Attach creates the session entry for a freshly connected transport. The
// session is anonymous until Register binds it to a user; anonymous sessions
// may observe events but never originate chat or calls.
func (r *Registry) Attach(em Emitter) {
	r.mu.Lock()
	r.sessions[em.SessionID()] = &session{emitter: em}
	r.mu.Unlock()
}

// Register binds a session to a user identity. Idempotent: re-registering
// the same session updates the binding in place. The online flag is durably
// updated before any presence broadcast goes out.
func (r *Registry) Register(ctx context.Context, sessionID, userID, username string) error {
	const op = "hub.registry.register"
	log := r.log.With(slog.String("op", op), slog.String("session_id", sessionID), slog.String("user_id", userID))

	if err := r.users.SetOnline(ctx, userID, true, time.Now().UTC()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Error("failed to persist online flag", sl.Err(err))
		return err
	}
	if r.presence != nil {
		if err := r.presence.SetOnline(ctx, userID); err != nil {
			log.Warn("presence cache update failed", sl.Err(err))
		}
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.userID != "" && s.userID != userID {
		r.detachUserLocked(sessionID, s.userID)
	}
	s.userID = userID
	s.username = username
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][sessionID] = struct{}{}
	r.mu.Unlock()

	r.broadcastPresence(userID, username, true)
	log.Info("session registered", slog.String("username", username))
	return nil
}

// Unregister removes the session. If it was the user's last active session
// the user goes offline durably, and a presence broadcast plus a fresh
// online-users snapshot follow.
func (r *Registry) Unregister(ctx context.Context, sessionID string) {
	const op = "hub.registry.unregister"

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	userID, username := s.userID, s.username
	lastSession := false
	if userID != "" {
		r.detachUserLocked(sessionID, userID)
		lastSession = len(r.byUser[userID]) == 0
		if lastSession {
			delete(r.byUser, userID)
		}
	}
	r.mu.Unlock()

	if userID == "" || !lastSession {
		return
	}

	if err := r.users.SetOnline(ctx, userID, false, time.Now().UTC()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		r.log.Error("failed to persist offline flag", slog.String("op", op), sl.Err(err))
	}
	if r.presence != nil {
		if err := r.presence.SetOffline(ctx, userID); err != nil {
			r.log.Warn("presence cache update failed", slog.String("op", op), sl.Err(err))
		}
	}

	r.broadcastPresence(userID, username, false)
	r.log.Info("session unregistered", slog.String("op", op), slog.String("session_id", sessionID), slog.String("user_id", userID))
}

func (r *Registry) detachUserLocked(sessionID, userID string) {
	if set, ok := r.byUser[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// SessionOf returns any one active session id for the user. Which one wins
// when the user has several sessions is unspecified.
func (r *Registry) SessionOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid := range r.byUser[userID] {
		return sid, true
	}
	return "", false
}

func (r *Registry) UserOf(sessionID string) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	return domain.Session{ID: sessionID, UserID: s.userID, Username: s.username}, true
}

// Resolve accepts either a session id or a user id and returns a session id,
// the way the signalling bridge addresses targets: session ids win, then the
// first session of a matching user.
func (r *Registry) Resolve(target string) (string, bool) {
	r.mu.RLock()
	if _, ok := r.sessions[target]; ok {
		r.mu.RUnlock()
		return target, true
	}
	r.mu.RUnlock()
	return r.SessionOf(target)
}

// OnlineUser is one row of the users_online snapshot.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// OnlineUsers returns a deduplicated snapshot of the registered users.
func (r *Registry) OnlineUsers() []OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.byUser))
	out := make([]OnlineUser, 0, len(r.byUser))
	for _, s := range r.sessions {
		if s.userID == "" {
			continue
		}
		if _, dup := seen[s.userID]; dup {
			continue
		}
		seen[s.userID] = struct{}{}
		out = append(out, OnlineUser{UserID: s.userID, Username: s.username})
	}
	return out
}

// EmitTo sends one event to one session. Missing sessions are a no-op; the
// caller decided the target, not the payload's author.
func (r *Registry) EmitTo(sessionID, event string, payload any) bool {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.emitter.Emit(event, payload)
	return true
}

// BroadcastAll emits event to every connected session except exclude.
func (r *Registry) BroadcastAll(event string, payload any, exclude string) {
	r.mu.RLock()
	targets := make([]Emitter, 0, len(r.sessions))
	for sid, s := range r.sessions {
		if sid == exclude {
			continue
		}
		targets = append(targets, s.emitter)
	}
	r.mu.RUnlock()

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	for _, em := range targets {
		em.Emit(event, payload)
	}
}

func (r *Registry) broadcastPresence(userID, username string, online bool) {
	r.BroadcastAll("user_status_changed", map[string]any{
		"userId":   userID,
		"username": username,
		"isOnline": online,
	}, "")
	r.BroadcastAll("users_online", r.OnlineUsers(), "")
}
