// Package callsignal routes offer/answer/ICE between a caller and a callee
// session and drives the persisted call lifecycle state machine:
// ringing -> ongoing | rejected | missed, ongoing -> completed.
package callsignal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/hub"
	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/repository"
)

var ErrCallNotFound = errors.New("call not found")

type Service struct {
	log      *slog.Logger
	calls    repository.CallRepository
	registry *hub.Registry

	mu     sync.Mutex
	byRoom map[string]string // roomID -> active call id
}

func NewService(calls repository.CallRepository, registry *hub.Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, calls: calls, registry: registry, byRoom: make(map[string]string)}
}

// CallUser starts a ringing call. incoming_call goes to the raw target
// unconditionally (possibly to nobody); call_ringing goes back to the caller
// only when the callee actually resolved to a session. That asymmetry is
// deliberate and kept.
func (s *Service) CallUser(ctx context.Context, callerSession domain.Session, target, roomID string, signal any, isVideo bool) error {
	const op = "callsignal.callUser"
	log := s.log.With(slog.String("op", op), slog.String("room_id", roomID), slog.String("caller", callerSession.UserID))

	if !callerSession.Authenticated() {
		return errors.New("caller is not authenticated")
	}

	callType := domain.CallTypeAudio
	if isVideo {
		callType = domain.CallTypeVideo
	}
	call := &domain.Call{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		InitiatorID: callerSession.UserID,
		CallType:    callType,
		StartedAt:   time.Now().UTC(),
		Status:      domain.CallStatusRinging,
	}
	if err := s.calls.Create(ctx, call); err != nil {
		log.Error("failed to persist call", sl.Err(err))
		return err
	}
	if err := s.calls.AddParticipant(ctx, &domain.CallParticipant{
		CallID: call.ID, UserID: callerSession.UserID, JoinedAt: call.StartedAt, Answered: true,
	}); err != nil {
		log.Warn("failed to add caller participant", sl.Err(err))
	}

	s.mu.Lock()
	s.byRoom[roomID] = call.ID
	s.mu.Unlock()

	payload := map[string]any{
		"from":         callerSession.ID,
		"fromUserId":   callerSession.UserID,
		"fromUsername": callerSession.Username,
		"signal":       signal,
		"isVideo":      isVideo,
		"roomId":       roomID,
		"callId":       call.ID,
	}
	calleeSession, online := s.registry.Resolve(target)
	if online {
		s.registry.EmitTo(calleeSession, "incoming_call", payload)
		s.registry.EmitTo(callerSession.ID, "call_ringing", map[string]any{"roomId": roomID, "callId": call.ID})
	} else {
		// Target resolved to nobody: the emit is dropped, the DB row stays.
		s.registry.EmitTo(target, "incoming_call", payload)
	}

	log.Info("call started", slog.String("call_id", call.ID), slog.String("type", string(callType)), slog.Bool("callee_online", online))
	return nil
}

// Answer marks the call ongoing on the first non-initiator answer and relays
// the answer signal back to the caller.
func (s *Service) Answer(ctx context.Context, calleeSession domain.Session, target, roomID string, signal any) error {
	const op = "callsignal.answer"
	log := s.log.With(slog.String("op", op), slog.String("room_id", roomID))

	call, err := s.activeCall(ctx, roomID)
	if err != nil {
		log.Warn("answer for unknown call", sl.Err(err))
		return err
	}

	now := time.Now().UTC()
	if calleeSession.UserID != "" && calleeSession.UserID != call.InitiatorID {
		if err := s.calls.AddParticipant(ctx, &domain.CallParticipant{
			CallID: call.ID, UserID: calleeSession.UserID, JoinedAt: now, Answered: true,
		}); err != nil {
			log.Warn("failed to add callee participant", sl.Err(err))
		}
		if err := s.calls.MarkAnswered(ctx, call.ID, calleeSession.UserID); err != nil {
			log.Warn("failed to mark answered", sl.Err(err))
		}
		if call.Status == domain.CallStatusRinging {
			if err := s.calls.UpdateStatus(ctx, call.ID, domain.CallStatusOngoing, nil); err != nil {
				log.Error("failed to set call ongoing", sl.Err(err))
				return err
			}
		}
	}

	if sid, ok := s.registry.Resolve(target); ok {
		s.registry.EmitTo(sid, "call_accepted", map[string]any{
			"signal": signal,
			"from":   calleeSession.ID,
			"roomId": roomID,
		})
	}
	log.Info("call answered", slog.String("call_id", call.ID))
	return nil
}

// Reject terminates a ringing call with status rejected.
func (s *Service) Reject(ctx context.Context, rejecterSession domain.Session, target, roomID string) error {
	const op = "callsignal.reject"

	call, err := s.activeCall(ctx, roomID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.calls.UpdateStatus(ctx, call.ID, domain.CallStatusRejected, &now); err != nil {
		s.log.Error("failed to set call rejected", slog.String("op", op), sl.Err(err))
		return err
	}
	s.dropMapping(roomID)

	if sid, ok := s.registry.Resolve(target); ok {
		s.registry.EmitTo(sid, "call_rejected", map[string]any{"roomId": roomID, "from": rejecterSession.ID})
	}
	s.log.Info("call rejected", slog.String("op", op), slog.String("call_id", call.ID))
	return nil
}

// End completes the call: ongoing calls become completed, calls that never
// left ringing become missed. Either way ended_at is set and the in-memory
// mapping dropped.
func (s *Service) End(ctx context.Context, enderSession domain.Session, target, roomID string) error {
	const op = "callsignal.end"

	call, err := s.activeCall(ctx, roomID)
	if err != nil {
		return err
	}
	final := domain.CallStatusCompleted
	if call.Status == domain.CallStatusRinging {
		final = domain.CallStatusMissed
	}
	now := time.Now().UTC()
	if err := s.calls.UpdateStatus(ctx, call.ID, final, &now); err != nil {
		s.log.Error("failed to finalize call", slog.String("op", op), sl.Err(err))
		return err
	}
	s.dropMapping(roomID)

	if sid, ok := s.registry.Resolve(target); ok {
		s.registry.EmitTo(sid, "call_ended", map[string]any{"roomId": roomID, "from": enderSession.ID})
	}
	s.log.Info("call ended", slog.String("op", op), slog.String("call_id", call.ID), slog.String("status", string(final)))
	return nil
}

// ForwardICE relays an ICE candidate to the target, tagging the sending
// session so the receiver can route the reply. No DB effect.
func (s *Service) ForwardICE(senderSession domain.Session, target string, candidate any) {
	sid, ok := s.registry.Resolve(target)
	if !ok {
		return
	}
	s.registry.EmitTo(sid, "ice_candidate", map[string]any{
		"candidate": candidate,
		"from":      senderSession.ID,
	})
}

// History lists the room's calls, newest first. An empty roomID yields an
// empty list.
func (s *Service) History(ctx context.Context, roomID string, limit, offset int) ([]*domain.Call, error) {
	if roomID == "" {
		return []*domain.Call{}, nil
	}
	return s.calls.History(ctx, roomID, limit, offset)
}

// activeCall resolves the room's call via the in-memory mapping first, then
// the store, so a restarted process can still finalize calls it didn't start.
func (s *Service) activeCall(ctx context.Context, roomID string) (*domain.Call, error) {
	s.mu.Lock()
	callID, ok := s.byRoom[roomID]
	s.mu.Unlock()

	if ok {
		call, err := s.calls.GetByID(ctx, callID)
		if err == nil {
			return call, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	call, err := s.calls.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}
	if call.Terminal() {
		return nil, ErrCallNotFound
	}
	return call, nil
}

func (s *Service) dropMapping(roomID string) {
	s.mu.Lock()
	delete(s.byRoom, roomID)
	s.mu.Unlock()
}
