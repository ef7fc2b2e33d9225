package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"ragchat/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ThreadModel{}, &ThreadMessageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "secret_hash", "role", "updated_at"}),
	}).Create(&model).Error
}

// HasUserName checks if a display name is taken.
func (s *GormStore) HasUserName(name string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByName looks up a user by display name.
func (s *GormStore) GetUserByName(name string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("name = ?", name).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by name.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// ListThreads returns thread summaries, newest updatedAt first. An empty
// ownerID lists all threads (administrative listing).
func (s *GormStore) ListThreads(ownerID string) ([]domain.ThreadSummary, error) {
	tx := s.db.Model(&ThreadModel{}).Order("updated_at DESC")
	if ownerID != "" {
		tx = tx.Where("owner_id = ?", ownerID)
	}
	var models []ThreadModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ThreadSummary, 0, len(models))
	for _, m := range models {
		res = append(res, domain.ThreadSummary{
			ThreadID:  m.ThreadID,
			Title:     m.Title,
			UpdatedAt: m.UpdatedAt,
		})
	}
	return res, nil
}

// GetThread returns a thread with its messages in append order. When
// ownerID is given the lookup is strictly scoped to that owner; only when
// the scoped lookup finds nothing does a secondary path scan message
// authorship, for threads persisted before owner scoping existed.
func (s *GormStore) GetThread(threadID, ownerID string) (domain.Thread, bool, error) {
	model, ok, err := s.findThread(s.db, threadID, ownerID)
	if err != nil || !ok {
		return domain.Thread{}, ok, err
	}
	return s.loadThread(s.db, model)
}

func (s *GormStore) findThread(tx *gorm.DB, threadID, ownerID string) (ThreadModel, bool, error) {
	var model ThreadModel
	query := tx.Where("thread_id = ?", threadID)
	if ownerID != "" {
		query = query.Where("owner_id = ?", ownerID)
	} else {
		query = query.Order("updated_at DESC")
	}
	err := query.First(&model).Error
	if err == nil {
		return model, true, nil
	}
	if err != gorm.ErrRecordNotFound {
		return ThreadModel{}, false, err
	}
	if ownerID == "" {
		return ThreadModel{}, false, nil
	}
	// Legacy fallback: the user may appear as a message author on an
	// ownerless copy of this thread. Never used when an owner-scoped
	// thread exists.
	err = tx.Where(
		"thread_id = ? AND owner_id = '' AND id IN (SELECT thread_key FROM thread_message_models WHERE author_id = ?)",
		threadID, ownerID,
	).First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return ThreadModel{}, false, nil
	}
	if err != nil {
		return ThreadModel{}, false, err
	}
	return model, true, nil
}

func (s *GormStore) loadThread(tx *gorm.DB, model ThreadModel) (domain.Thread, bool, error) {
	var msgModels []ThreadMessageModel
	if err := tx.Where("thread_key = ?", model.ID).Order("seq ASC").Find(&msgModels).Error; err != nil {
		return domain.Thread{}, false, err
	}
	msgs := make([]domain.Message, 0, len(msgModels))
	for _, m := range msgModels {
		msgs = append(msgs, messageFromModel(m))
	}
	return domain.Thread{
		ThreadID:  model.ThreadID,
		OwnerID:   model.OwnerID,
		Title:     model.Title,
		Messages:  msgs,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, true, nil
}

// AppendTurn creates the thread if absent (title from the first message)
// and appends the given messages as one atomic unit. Concurrent appends on
// the same (threadID, ownerID) serialize on a row lock so message ordering
// never interleaves. updatedAt advances on every append.
//
// Two concurrent first turns race on the thread row insert: the unique
// index rejects the loser and aborts its transaction, so the append is
// rerun once and takes the row-lock path against the winner's row.
func (s *GormStore) AppendTurn(threadID, ownerID string, msgs ...domain.Message) (domain.Thread, error) {
	return appendWithRetry(func() (domain.Thread, error) {
		return s.appendTurn(threadID, ownerID, msgs...)
	})
}

// appendWithRetry reruns attempt once when it lost a create race.
func appendWithRetry(attempt func() (domain.Thread, error)) (domain.Thread, error) {
	thread, err := attempt()
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return attempt()
	}
	return thread, err
}

func (s *GormStore) appendTurn(threadID, ownerID string, msgs ...domain.Message) (domain.Thread, error) {
	var result domain.Thread
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var model ThreadModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("thread_id = ? AND owner_id = ?", threadID, ownerID).
			First(&model).Error
		switch err {
		case nil:
			model.UpdatedAt = now
			if err := tx.Model(&ThreadModel{}).Where("id = ?", model.ID).
				Update("updated_at", now).Error; err != nil {
				return err
			}
		case gorm.ErrRecordNotFound:
			title := ""
			if len(msgs) > 0 {
				title = threadTitle(msgs[0].Content)
			}
			model = ThreadModel{
				ID:        newKey(),
				ThreadID:  threadID,
				OwnerID:   ownerID,
				Title:     title,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		default:
			return err
		}

		var seq int64
		if err := tx.Model(&ThreadMessageModel{}).Where("thread_key = ?", model.ID).Count(&seq).Error; err != nil {
			return err
		}
		for i, msg := range msgs {
			row := messageToModel(msg)
			row.ThreadKey = model.ID
			row.Seq = int(seq) + i
			if row.CreatedAt.IsZero() {
				row.CreatedAt = now
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		thread, _, err := s.loadThread(tx, model)
		if err != nil {
			return err
		}
		result = thread
		return nil
	})
	if err != nil {
		return domain.Thread{}, err
	}
	return result, nil
}

// DeleteThread removes the thread and all its messages, scoped like
// GetThread. Returns false when no matching thread exists.
func (s *GormStore) DeleteThread(threadID, ownerID string) (bool, error) {
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model, ok, err := s.findThread(tx, threadID, ownerID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := tx.Delete(&ThreadMessageModel{}, "thread_key = ?", model.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ThreadModel{}, "id = ?", model.ID).Error; err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:         u.ID,
		Name:       u.Name,
		SecretHash: u.SecretHash,
		Role:       string(u.Role),
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:         m.ID,
		Name:       m.Name,
		SecretHash: m.SecretHash,
		Role:       domain.UserRole(m.Role),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) ThreadMessageModel {
	var attachments []byte
	if len(msg.Attachments) > 0 {
		attachments, _ = json.Marshal(msg.Attachments)
	}
	return ThreadMessageModel{
		ID:          msg.ID,
		Role:        msg.Role,
		Content:     msg.Content,
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.Name,
		Attachments: attachments,
		CreatedAt:   msg.Timestamp,
	}
}

func messageFromModel(m ThreadMessageModel) domain.Message {
	var attachments []string
	if len(m.Attachments) > 0 {
		_ = json.Unmarshal(m.Attachments, &attachments)
	}
	return domain.Message{
		ID:          m.ID,
		Role:        m.Role,
		Content:     m.Content,
		Name:        m.AuthorName,
		AuthorID:    m.AuthorID,
		Attachments: attachments,
		Timestamp:   m.CreatedAt,
	}
}
