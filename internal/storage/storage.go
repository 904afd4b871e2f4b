package storage

import (
	"clinicmsg/backend/internal/attachment"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/pkg/logger"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Storage is everything the messaging core needs from durable state.
type Storage interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SetUserStatus(ctx context.Context, id, status string) error

	PersistMessage(ctx context.Context, in NewMessage) (*models.Message, error)
	AdvanceMessageStatus(ctx context.Context, messageID, requesterID string, status models.MessageStatus) (*models.Message, error)

	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
}

type Service struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Attachments attachment.Store
}

// NewStorageService Constructor. rdb may be nil, then revocations live in the database.
func NewStorageService(db *gorm.DB, rdb *redis.Client, attachments attachment.Store) *Service {
	return &Service{
		DB:          db,
		Redis:       rdb,
		Attachments: attachments,
	}
}

// Migrate creates the tables owned by the messaging core.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Message{},
		&models.RevokedToken{},
	)
}

// SaveUser зберігає користувача. Використовується адмін-утилітою і тестами;
// у продакшені користувачів створює довідник клініки.
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return wrapDBError("save user", s.DB.WithContext(ctx).Save(user).Error)
}

func (s *Service) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, wrapDBError("get user", err)
	}
	return &user, nil
}

// SetUserStatus writes the presence status through to the user row.
func (s *Service) SetUserStatus(ctx context.Context, id, status string) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return wrapDBError("set user status", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func revokedKey(jti string) string {
	return "blacklist:" + jti
}

// IsTokenRevoked перевіряє чорний список у Redis (або в БД, якщо Redis не налаштовано).
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}

	if s.Redis != nil {
		err := s.Redis.Get(ctx, revokedKey(jti)).Err()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: blacklist lookup: %v", ErrStorage, err)
		}
		return true, nil
	}

	var count int64
	err := s.DB.WithContext(ctx).Model(&models.RevokedToken{}).
		Where("jti = ? AND expires_at > ?", jti, time.Now()).
		Count(&count).Error
	if err != nil {
		return false, wrapDBError("blacklist lookup", err)
	}
	return count > 0, nil
}

// RevokeToken blacklists a token id until its expiry.
func (s *Service) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("storage: token has no id")
	}
	if ttl <= 0 {
		// already expired, nothing to do
		return nil
	}

	if s.Redis != nil {
		if err := s.Redis.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
			return fmt.Errorf("%w: blacklist write: %v", ErrStorage, err)
		}
		return nil
	}

	row := models.RevokedToken{JTI: jti, ExpiresAt: time.Now().Add(ttl)}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jti"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return wrapDBError("blacklist write", err)
	}
	logger.Debug().Str("jti", jti).Msg("token revoked")
	return nil
}
