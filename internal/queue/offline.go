// Package queue hands offline-message notices to the notification service
// through asynq.
package queue

import (
	"clinicmsg/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeOfflineMessage is consumed by the push/email notification worker.
const TypeOfflineMessage = "notification:offline_message"

// OfflineMessagePayload is the task body.
type OfflineMessagePayload struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

// Enqueuer is the part of *asynq.Client the notifier uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// OfflineNotifier enqueues one task per message whose receiver is offline.
type OfflineNotifier struct {
	client Enqueuer
	queue  string
}

// NewOfflineNotifier connects to the Redis behind redisURL.
func NewOfflineNotifier(redisURL, queue string) (*OfflineNotifier, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	return NewOfflineNotifierWithClient(asynq.NewClient(opt), queue), nil
}

func NewOfflineNotifierWithClient(client Enqueuer, queue string) *OfflineNotifier {
	return &OfflineNotifier{client: client, queue: queue}
}

func (n *OfflineNotifier) NotifyOffline(ctx context.Context, msg *models.Message) error {
	payload, err := json.Marshal(OfflineMessagePayload{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeOfflineMessage, payload)
	_, err = n.client.EnqueueContext(ctx, task,
		asynq.Queue(n.queue),
		asynq.MaxRetry(3),
		// one notice per message even if a receipt races the enqueue
		asynq.TaskID("offline:"+msg.ID),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue offline notice: %w", err)
	}
	return nil
}

func (n *OfflineNotifier) Close() error {
	return n.client.Close()
}
