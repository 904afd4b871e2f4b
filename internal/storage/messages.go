package storage

import (
	"clinicmsg/backend/internal/attachment"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/pkg/logger"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// NewMessage is the validated input of PersistMessage.
type NewMessage struct {
	SenderID   string
	ReceiverID string
	Text       *string
	ImageData  *string // data URL
}

func (n NewMessage) hasText() bool {
	return n.Text != nil && strings.TrimSpace(*n.Text) != ""
}

func (n NewMessage) hasImage() bool {
	return n.ImageData != nil && *n.ImageData != ""
}

// PersistMessage validates and stores one message. The attachment, if any, is
// written before the row; a failed insert removes it again.
func (s *Service) PersistMessage(ctx context.Context, in NewMessage) (*models.Message, error) {
	if in.SenderID == in.ReceiverID {
		return nil, ErrSelfMessage
	}
	if !in.hasText() && !in.hasImage() {
		return nil, ErrEmptyMessage
	}

	var att *attachment.Attachment
	if in.hasImage() {
		var err error
		if att, err = attachment.Decode(*in.ImageData); err != nil {
			return nil, err
		}
		if s.Attachments == nil {
			return nil, fmt.Errorf("%w: no attachment store configured", ErrStorage)
		}
	}

	now := time.Now().UTC()
	msg := &models.Message{
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Status:     models.MessageSent,
		IsRead:     false,
		CreatedAt:  now,
		DateSent:   now,
	}
	if in.Text != nil {
		msg.Content = *in.Text
	}

	var key string
	if att != nil {
		key = att.NewKey()
		url, err := s.Attachments.Put(ctx, key, att.MIME, att.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		msg.ImageURL = &url
	}

	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		if key != "" {
			// best effort, the object is unreferenced either way
			if delErr := s.Attachments.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				logger.Warn().Err(delErr).Str("key", key).Msg("failed to remove orphaned attachment")
			}
		}
		logger.Error().Err(err).Str("sender_id", in.SenderID).Msg("failed to save message")
		return nil, wrapDBError("create message", err)
	}

	return msg, nil
}

// GetMessage returns one message by id.
func (s *Service) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, wrapDBError("get message", err)
	}
	return &msg, nil
}

// AdvanceMessageStatus moves a message forward to status on behalf of its receiver.
//
// Re-applying the current status is a no-op. A backward step returns
// ErrStatusRegression and leaves the row untouched. The write is a conditional
// UPDATE guarded on the predecessor statuses, so concurrent advances on the same
// row serialize in the database and the highest status wins.
func (s *Service) AdvanceMessageStatus(ctx context.Context, messageID, requesterID string, status models.MessageStatus) (*models.Message, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != requesterID {
		return nil, ErrPermission
	}
	if msg.Status == status {
		return msg, nil
	}
	if !msg.Status.CanAdvanceTo(status) {
		return nil, ErrStatusRegression
	}

	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND receiver_id = ? AND status IN ?", messageID, requesterID, status.Predecessors()).
		Updates(map[string]interface{}{
			"status":  status,
			"is_read": status == models.MessageRead,
		})
	if res.Error != nil {
		return nil, wrapDBError("advance status", res.Error)
	}

	current, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		// another advance got there first
		if current.Status == status {
			return current, nil
		}
		return nil, ErrStatusRegression
	}
	return current, nil
}
