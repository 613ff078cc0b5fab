package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshcall/core/internal/domain"
)

// InMemoryUserRepository backs tests; it has no
// password column at all, mirroring the "identity is external" boundary.
type InMemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

func NewInMemoryUserRepository(seed ...*domain.User) *InMemoryUserRepository {
	r := &InMemoryUserRepository{users: make(map[string]*domain.User)}
	for _, u := range seed {
		r.users[u.ID] = u
	}
	return r
}

func (r *InMemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *InMemoryUserRepository) SetOnline(_ context.Context, id string, online bool, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = lastSeen
	return nil
}

func (r *InMemoryUserRepository) List(_ context.Context, limit, offset int) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return paginateUsers(r.users, "", limit, offset), nil
}

func (r *InMemoryUserRepository) ListByStatus(_ context.Context, status domain.UserStatus, limit, offset int) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return paginateUsers(r.users, status, limit, offset), nil
}

func (r *InMemoryUserRepository) SetStatus(_ context.Context, id string, status domain.UserStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

func paginateUsers(users map[string]*domain.User, status domain.UserStatus, limit, offset int) []*domain.User {
	all := make([]*domain.User, 0, len(users))
	for _, u := range users {
		if status != "" && u.Status != status {
			continue
		}
		cp := *u
		all = append(all, &cp)
	}
	if offset >= len(all) {
		return []*domain.User{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// InMemoryRoomRepository mirrors PostgresRoomRepository's semantics,
// including the private-room dedup guaranteed by a map keyed on the sorted
// pair.
type InMemoryRoomRepository struct {
	mu            sync.Mutex
	rooms         map[string]*domain.Room
	participants  map[string][]*domain.Participant // roomID -> participants
	privateByPair map[string]string                // "a:b" -> roomID
}

func NewInMemoryRoomRepository() *InMemoryRoomRepository {
	return &InMemoryRoomRepository{
		rooms:         make(map[string]*domain.Room),
		participants:  make(map[string][]*domain.Participant),
		privateByPair: make(map[string]string),
	}
}

func (r *InMemoryRoomRepository) Create(_ context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if _, ok := r.rooms[room.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *room
	r.rooms[room.ID] = &cp
	return nil
}

func (r *InMemoryRoomRepository) GetByID(_ context.Context, id string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (r *InMemoryRoomRepository) GetOrCreatePrivate(_ context.Context, userA, userB string) (*domain.Room, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := privateKey(userA, userB)
	if id, ok := r.privateByPair[key]; ok {
		room := r.rooms[id]
		cp := *room
		return &cp, false, nil
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	room := &domain.Room{ID: id, Type: domain.RoomTypePrivate}
	r.rooms[id] = room
	r.privateByPair[key] = id
	r.participants[id] = []*domain.Participant{
		{RoomID: id, UserID: userA, Role: domain.ParticipantRoleMember, JoinedAt: now},
		{RoomID: id, UserID: userB, Role: domain.ParticipantRoleMember, JoinedAt: now},
	}
	cp := *room
	return &cp, true, nil
}

func (r *InMemoryRoomRepository) ListForUser(_ context.Context, userID string) ([]*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Room
	for roomID, participants := range r.participants {
		for _, p := range participants {
			if p.UserID == userID && p.Active() {
				cp := *r.rooms[roomID]
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *InMemoryRoomRepository) AddParticipant(_ context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	list := r.participants[p.RoomID]
	for _, existing := range list {
		if existing.UserID == p.UserID {
			existing.LeftAt = nil
			existing.JoinedAt = p.JoinedAt
			return nil
		}
	}
	cp := *p
	r.participants[p.RoomID] = append(list, &cp)
	return nil
}

func (r *InMemoryRoomRepository) RemoveParticipant(_ context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range r.participants[roomID] {
		if p.UserID == userID && p.Active() {
			p.LeftAt = &now
		}
	}
	return nil
}

func (r *InMemoryRoomRepository) ActiveParticipants(_ context.Context, roomID string) ([]*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Participant
	for _, p := range r.participants[roomID] {
		if p.Active() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *InMemoryRoomRepository) IsActiveParticipant(_ context.Context, roomID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[roomID] {
		if p.UserID == userID && p.Active() {
			return true, nil
		}
	}
	return false, nil
}

// InMemoryMessageRepository enforces the same monotonic status invariant as
// the postgres implementation.
type InMemoryMessageRepository struct {
	mu       sync.Mutex
	messages map[string]*domain.Message
	byRoom   map[string][]string // roomID -> ordered message ids
	statuses map[string]map[string]domain.DeliveryStatus
}

func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{
		messages: make(map[string]*domain.Message),
		byRoom:   make(map[string][]string),
		statuses: make(map[string]map[string]domain.DeliveryStatus),
	}
}

func (r *InMemoryMessageRepository) Create(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	r.messages[msg.ID] = &cp
	r.byRoom[msg.RoomID] = append(r.byRoom[msg.RoomID], msg.ID)
	return nil
}

func (r *InMemoryMessageRepository) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *InMemoryMessageRepository) Edit(_ context.Context, id, content string, editedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Content = content
	m.EditedAt = &editedAt
	return nil
}

func (r *InMemoryMessageRepository) History(_ context.Context, roomID string, before time.Time, limit int) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	ids := r.byRoom[roomID]
	var out []*domain.Message
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.messages[ids[i]]
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryMessageRepository) UpsertStatus(_ context.Context, messageID, userID string, status domain.DeliveryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	perUser, ok := r.statuses[messageID]
	if !ok {
		perUser = make(map[string]domain.DeliveryStatus)
		r.statuses[messageID] = perUser
	}
	cur, ok := perUser[userID]
	if !ok {
		perUser[userID] = status
		return nil
	}
	if status.Advances(cur) {
		perUser[userID] = status
	}
	return nil
}

func (r *InMemoryMessageRepository) StatusesFor(_ context.Context, messageID string) ([]domain.MessageStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MessageStatus
	for uid, st := range r.statuses[messageID] {
		out = append(out, domain.MessageStatus{MessageID: messageID, UserID: uid, Status: st})
	}
	return out, nil
}

func (r *InMemoryMessageRepository) SendersInRoom(_ context.Context, roomID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range r.byRoom[roomID] {
		sender := r.messages[id].SenderID
		if !seen[sender] {
			seen[sender] = true
			out = append(out, sender)
		}
	}
	return out, nil
}

func (r *InMemoryMessageRepository) UnreadByOthers(_ context.Context, roomID, excludeSenderID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, id := range r.byRoom[roomID] {
		m := r.messages[id]
		if m.SenderID == excludeSenderID {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// InMemoryCallRepository is used by callsignal tests.
type InMemoryCallRepository struct {
	mu           sync.Mutex
	calls        map[string]*domain.Call
	byRoom       map[string]string // roomID -> latest callID
	participants map[string][]*domain.CallParticipant
}

func NewInMemoryCallRepository() *InMemoryCallRepository {
	return &InMemoryCallRepository{
		calls:        make(map[string]*domain.Call),
		byRoom:       make(map[string]string),
		participants: make(map[string][]*domain.CallParticipant),
	}
}

func (r *InMemoryCallRepository) Create(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	cp := *call
	r.calls[call.ID] = &cp
	r.byRoom[call.RoomID] = call.ID
	return nil
}

func (r *InMemoryCallRepository) GetByID(_ context.Context, id string) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryCallRepository) GetByRoomID(_ context.Context, roomID string) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRoom[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.calls[id]
	return &cp, nil
}

func (r *InMemoryCallRepository) UpdateStatus(_ context.Context, id string, status domain.CallStatus, endedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	if endedAt != nil {
		c.EndedAt = endedAt
	}
	return nil
}

func (r *InMemoryCallRepository) AddParticipant(_ context.Context, p *domain.CallParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	cp := *p
	r.participants[p.CallID] = append(r.participants[p.CallID], &cp)
	return nil
}

func (r *InMemoryCallRepository) MarkAnswered(_ context.Context, callID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[callID] {
		if p.UserID == userID {
			p.Answered = true
			return nil
		}
	}
	return ErrNotFound
}

func (r *InMemoryCallRepository) History(_ context.Context, roomID string, limit, offset int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roomID == "" {
		return []*domain.Call{}, nil
	}
	var out []*domain.Call
	for _, c := range r.calls {
		if c.RoomID == roomID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemoryRecordingRepository keeps finished recording artifacts for tests
// and single-process runs.
type InMemoryRecordingRepository struct {
	mu   sync.Mutex
	rows []*domain.RecordingArtifact
}

func NewInMemoryRecordingRepository() *InMemoryRecordingRepository {
	return &InMemoryRecordingRepository{}
}

func (r *InMemoryRecordingRepository) Create(_ context.Context, rec *domain.RecordingArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *InMemoryRecordingRepository) ListByCall(_ context.Context, callID string) ([]*domain.RecordingArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.RecordingArtifact{}
	for _, rec := range r.rows {
		if rec.CallID == callID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
