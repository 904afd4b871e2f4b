package models_test

import (
	"clinicmsg/backend/internal/models"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStatus_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to models.MessageStatus
		ok       bool
	}{
		{models.MessageSent, models.MessageDelivered, true},
		{models.MessageSent, models.MessageRead, true},
		{models.MessageDelivered, models.MessageRead, true},
		{models.MessageDelivered, models.MessageSent, false},
		{models.MessageRead, models.MessageDelivered, false},
		{models.MessageRead, models.MessageSent, false},
		{models.MessageRead, models.MessageRead, false},
		{models.MessageSent, models.MessageStatus("lost"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestMessageStatus_Predecessors(t *testing.T) {
	assert.Empty(t, models.MessageSent.Predecessors())
	assert.Equal(t, []models.MessageStatus{models.MessageSent}, models.MessageDelivered.Predecessors())
	assert.ElementsMatch(t,
		[]models.MessageStatus{models.MessageSent, models.MessageDelivered},
		models.MessageRead.Predecessors())
}

func TestMessage_Preview(t *testing.T) {
	url := "https://cdn.example/chat_images/a.png"

	assert.Equal(t, "hi", (&models.Message{Content: "hi"}).Preview())
	assert.Equal(t, "[image]", (&models.Message{ImageURL: &url}).Preview())
	assert.Equal(t, "look", (&models.Message{Content: "look", ImageURL: &url}).Preview())
}

func TestInboundFrame_Kinds(t *testing.T) {
	var content models.InboundFrame
	require.NoError(t, json.Unmarshal([]byte(`{"message":"Hello"}`), &content))
	assert.True(t, content.IsContent())
	assert.False(t, content.IsReceipt())
	require.NotNil(t, content.Message)
	assert.Equal(t, "Hello", *content.Message)

	var read models.InboundFrame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"message_read","message_id":"m1"}`), &read))
	assert.True(t, read.IsReceipt())
	assert.Equal(t, models.MessageRead, read.ReceiptStatus())

	delivered := models.InboundFrame{Type: models.FrameMessageDelivered}
	assert.Equal(t, models.MessageDelivered, delivered.ReceiptStatus())

	unknown := models.InboundFrame{Type: "typing"}
	assert.False(t, unknown.IsContent())
	assert.False(t, unknown.IsReceipt())
}

func TestNewChatMessageEvent(t *testing.T) {
	sent := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &models.Message{
		ID:         "m1",
		SenderID:   "p1",
		ReceiverID: "a1",
		Content:    "Hello",
		Status:     models.MessageSent,
		DateSent:   sent,
	}

	ev := models.NewChatMessageEvent(msg)

	assert.Equal(t, models.EventChatMessage, ev.Type)
	assert.Equal(t, "Hello", ev.Message)
	assert.Equal(t, "p1", ev.SenderID)
	assert.Equal(t, "a1", ev.ReceiverID)
	assert.Equal(t, sent, ev.Timestamp)
	assert.Nil(t, ev.ImageURL)
}
