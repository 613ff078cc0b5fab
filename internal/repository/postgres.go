package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// onConflictUpdateJoin makes AddParticipant idempotent: re-adding an already
// active participant (e.g. a replayed join) updates joined_at instead of
// erroring on the composite primary key.
func onConflictUpdateJoin() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"joined_at", "left_at"}),
	}
}

func onConflictUpdateCallJoin() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"joined_at"}),
	}
}

// --- Users ---

type PostgresUserRepository struct{ db *gorm.DB }

func NewPostgresUserRepository(db *gorm.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toDomainUser(&u), nil
}

func (r *PostgresUserRepository) SetOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Updates(map[string]any{"is_online": online, "last_seen": lastSeen.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepository) List(ctx context.Context, limit, offset int) ([]*domain.User, error) {
	var rows []model.User
	if err := r.db.WithContext(ctx).Limit(limit).Offset(offset).Order("username").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainUsers(rows), nil
}

func (r *PostgresUserRepository) ListByStatus(ctx context.Context, status domain.UserStatus, limit, offset int) ([]*domain.User, error) {
	var rows []model.User
	err := r.db.WithContext(ctx).Where("status = ?", string(status)).
		Limit(limit).Offset(offset).Order("username").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainUsers(rows), nil
}

func (r *PostgresUserRepository) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func toDomainUser(u *model.User) *domain.User {
	return &domain.User{
		ID:       u.ID,
		Username: u.Username,
		Status:   domain.UserStatus(u.Status),
		Role:     domain.UserRole(u.Role),
		IsOnline: u.IsOnline,
		LastSeen: u.LastSeen,
	}
}

func toDomainUsers(rows []model.User) []*domain.User {
	out := make([]*domain.User, 0, len(rows))
	for i := range rows {
		out = append(out, toDomainUser(&rows[i]))
	}
	return out
}

// --- Rooms ---

type PostgresRoomRepository struct{ db *gorm.DB }

func NewPostgresRoomRepository(db *gorm.DB) *PostgresRoomRepository {
	return &PostgresRoomRepository{db: db}
}

func privateKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

func (r *PostgresRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	m := &model.Room{ID: room.ID, Type: string(room.Type), Name: room.Name}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *PostgresRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	var m model.Room
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &domain.Room{ID: m.ID, Type: domain.RoomType(m.Type), Name: m.Name}, nil
}

// GetOrCreatePrivate relies on a unique index on PrivateKey to make the pair
// (A,B)/(B,A) collapse onto one row regardless of call order.
func (r *PostgresRoomRepository) GetOrCreatePrivate(ctx context.Context, userA, userB string) (*domain.Room, bool, error) {
	key := privateKey(userA, userB)

	var existing model.Room
	err := r.db.WithContext(ctx).First(&existing, "private_key = ?", key).Error
	if err == nil {
		return &domain.Room{ID: existing.ID, Type: domain.RoomType(existing.Type), Name: existing.Name}, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	created := false
	var room *domain.Room

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var again model.Room
		err := tx.First(&again, "private_key = ?", key).Error
		if err == nil {
			room = &domain.Room{ID: again.ID, Type: domain.RoomType(again.Type), Name: again.Name}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		id := uuid.New().String()
		now := time.Now().UTC()
		m := &model.Room{ID: id, Type: string(domain.RoomTypePrivate), PrivateKey: key}
		if err := tx.Create(m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				var raced model.Room
				if err := tx.First(&raced, "private_key = ?", key).Error; err != nil {
					return err
				}
				room = &domain.Room{ID: raced.ID, Type: domain.RoomType(raced.Type)}
				return nil
			}
			return err
		}
		for _, uid := range []string{userA, userB} {
			if err := tx.Create(&model.Participant{RoomID: id, UserID: uid, Role: string(domain.ParticipantRoleMember), JoinedAt: now}).Error; err != nil {
				return err
			}
		}
		created = true
		room = &domain.Room{ID: id, Type: domain.RoomTypePrivate}
		return nil
	})
	if txErr != nil {
		return nil, false, txErr
	}
	return room, created, nil
}

func (r *PostgresRoomRepository) ListForUser(ctx context.Context, userID string) ([]*domain.Room, error) {
	var rows []model.Room
	err := r.db.WithContext(ctx).
		Joins("JOIN participants ON participants.room_id = rooms.id").
		Where("participants.user_id = ? AND participants.left_at IS NULL", userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Room, 0, len(rows))
	for _, m := range rows {
		out = append(out, &domain.Room{ID: m.ID, Type: domain.RoomType(m.Type), Name: m.Name})
	}
	return out, nil
}

func (r *PostgresRoomRepository) AddParticipant(ctx context.Context, p *domain.Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	m := &model.Participant{RoomID: p.RoomID, UserID: p.UserID, Role: string(p.Role), JoinedAt: p.JoinedAt}
	return r.db.WithContext(ctx).Clauses(onConflictUpdateJoin()).Create(m).Error
}

func (r *PostgresRoomRepository) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.Participant{}).
		Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomID, userID).
		Update("left_at", now)
	return res.Error
}

func (r *PostgresRoomRepository) ActiveParticipants(ctx context.Context, roomID string) ([]*domain.Participant, error) {
	var rows []model.Participant
	err := r.db.WithContext(ctx).Where("room_id = ? AND left_at IS NULL", roomID).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Participant, 0, len(rows))
	for _, m := range rows {
		out = append(out, &domain.Participant{RoomID: m.RoomID, UserID: m.UserID, Role: domain.ParticipantRole(m.Role), JoinedAt: m.JoinedAt, LeftAt: m.LeftAt})
	}
	return out, nil
}

func (r *PostgresRoomRepository) IsActiveParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Participant{}).
		Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

// --- Messages ---

type PostgresMessageRepository struct{ db *gorm.DB }

func NewPostgresMessageRepository(db *gorm.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m := &model.Message{
		ID: msg.ID, RoomID: msg.RoomID, SenderID: msg.SenderID, Content: msg.Content,
		Type: string(msg.Type), FileURL: msg.FileURL, CreatedAt: msg.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var m model.Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &domain.Message{
		ID: m.ID, RoomID: m.RoomID, SenderID: m.SenderID, Content: m.Content,
		Type: domain.MessageType(m.Type), FileURL: m.FileURL, CreatedAt: m.CreatedAt, EditedAt: m.EditedAt,
	}, nil
}

func (r *PostgresMessageRepository) Edit(ctx context.Context, id, content string, editedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).
		Updates(map[string]any{"content": content, "edited_at": editedAt.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) History(ctx context.Context, roomID string, before time.Time, limit int) ([]*domain.Message, error) {
	q := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before.UTC())
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []model.Message
	if err := q.Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, &domain.Message{
			ID: m.ID, RoomID: m.RoomID, SenderID: m.SenderID, Content: m.Content,
			Type: domain.MessageType(m.Type), FileURL: m.FileURL, CreatedAt: m.CreatedAt, EditedAt: m.EditedAt,
		})
	}
	return out, nil
}

// UpsertStatus never downgrades: it only writes when the requested status
// advances the stored one (or there is no row yet), enforcing the
// sent -> delivered -> read monotonic invariant at the storage boundary.
func (r *PostgresMessageRepository) UpsertStatus(ctx context.Context, messageID, userID string, status domain.DeliveryStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.MessageStatus
		err := tx.First(&existing, "message_id = ? AND user_id = ?", messageID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&model.MessageStatus{MessageID: messageID, UserID: userID, Status: string(status)}).Error
		}
		if err != nil {
			return err
		}
		if !status.Advances(domain.DeliveryStatus(existing.Status)) {
			return nil
		}
		return tx.Model(&existing).Update("status", string(status)).Error
	})
}

func (r *PostgresMessageRepository) StatusesFor(ctx context.Context, messageID string) ([]domain.MessageStatus, error) {
	var rows []model.MessageStatus
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.MessageStatus, 0, len(rows))
	for _, m := range rows {
		out = append(out, domain.MessageStatus{MessageID: m.MessageID, UserID: m.UserID, Status: domain.DeliveryStatus(m.Status)})
	}
	return out, nil
}

func (r *PostgresMessageRepository) SendersInRoom(ctx context.Context, roomID string) ([]string, error) {
	var senders []string
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("room_id = ?", roomID).Distinct().Pluck("sender_id", &senders).Error
	return senders, err
}

func (r *PostgresMessageRepository) UnreadByOthers(ctx context.Context, roomID, excludeSenderID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("room_id = ? AND sender_id <> ?", roomID, excludeSenderID).
		Pluck("id", &ids).Error
	return ids, err
}

// --- Calls ---

type PostgresCallRepository struct{ db *gorm.DB }

func NewPostgresCallRepository(db *gorm.DB) *PostgresCallRepository {
	return &PostgresCallRepository{db: db}
}

func (r *PostgresCallRepository) Create(ctx context.Context, call *domain.Call) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	m := &model.Call{
		ID: call.ID, RoomID: call.RoomID, InitiatorID: call.InitiatorID,
		CallType: string(call.CallType), StartedAt: call.StartedAt, Status: string(call.Status),
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *PostgresCallRepository) GetByID(ctx context.Context, id string) (*domain.Call, error) {
	var m model.Call
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toDomainCall(&m), nil
}

func (r *PostgresCallRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.Call, error) {
	var m model.Call
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("started_at desc").First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toDomainCall(&m), nil
}

func (r *PostgresCallRepository) UpdateStatus(ctx context.Context, id string, status domain.CallStatus, endedAt *time.Time) error {
	updates := map[string]any{"status": string(status)}
	if endedAt != nil {
		updates["ended_at"] = endedAt.UTC()
	}
	res := r.db.WithContext(ctx).Model(&model.Call{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresCallRepository) AddParticipant(ctx context.Context, p *domain.CallParticipant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	m := &model.CallParticipant{CallID: p.CallID, UserID: p.UserID, JoinedAt: p.JoinedAt, Answered: p.Answered}
	return r.db.WithContext(ctx).Clauses(onConflictUpdateCallJoin()).Create(m).Error
}

func (r *PostgresCallRepository) MarkAnswered(ctx context.Context, callID, userID string) error {
	res := r.db.WithContext(ctx).Model(&model.CallParticipant{}).
		Where("call_id = ? AND user_id = ?", callID, userID).
		Update("answered", true)
	return res.Error
}

func (r *PostgresCallRepository) History(ctx context.Context, roomID string, limit, offset int) ([]*domain.Call, error) {
	if roomID == "" {
		// Call history is room-scoped; no room means no list.
		return []*domain.Call{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []model.Call
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order("started_at desc").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Call, 0, len(rows))
	for i := range rows {
		out = append(out, toDomainCall(&rows[i]))
	}
	return out, nil
}

func toDomainCall(m *model.Call) *domain.Call {
	return &domain.Call{
		ID: m.ID, RoomID: m.RoomID, InitiatorID: m.InitiatorID, CallType: domain.CallType(m.CallType),
		StartedAt: m.StartedAt, EndedAt: m.EndedAt, Status: domain.CallStatus(m.Status),
	}
}

// --- Recordings ---

type PostgresRecordingRepository struct{ db *gorm.DB }

func NewPostgresRecordingRepository(db *gorm.DB) *PostgresRecordingRepository {
	return &PostgresRecordingRepository{db: db}
}

func (r *PostgresRecordingRepository) Create(ctx context.Context, rec *domain.RecordingArtifact) error {
	m := &model.RecordingArtifact{
		ID: rec.ID, RoomID: rec.RoomID, CallID: rec.CallID, Path: rec.Path,
		HasVideo: rec.HasVideo, StartedAt: rec.StartedAt, EndedAt: rec.EndedAt, DurationMS: rec.DurationMS,
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *PostgresRecordingRepository) ListByCall(ctx context.Context, callID string) ([]*domain.RecordingArtifact, error) {
	var rows []model.RecordingArtifact
	err := r.db.WithContext(ctx).Where("call_id = ?", callID).Order("started_at desc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.RecordingArtifact, 0, len(rows))
	for _, m := range rows {
		out = append(out, &domain.RecordingArtifact{
			ID: m.ID, RoomID: m.RoomID, CallID: m.CallID, Path: m.Path,
			HasVideo: m.HasVideo, StartedAt: m.StartedAt, EndedAt: m.EndedAt, DurationMS: m.DurationMS,
		})
	}
	return out, nil
}
