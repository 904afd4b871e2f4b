package chathub_test

import (
	"clinicmsg/backend/internal/chathub"
	"clinicmsg/backend/internal/config"
	"clinicmsg/backend/internal/models"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_TracksSessions(t *testing.T) {
	f := newFixture(t)

	a := f.inbox(t, "p1")
	b := f.conversation(t, "p1", "a1", models.ChatAdmin)
	assert.Equal(t, 2, f.hub.SessionCount())

	a.Close(config.CloseNormal, "bye")
	assert.Equal(t, 1, f.hub.SessionCount())

	b.Close(config.CloseNormal, "bye")
	assert.Equal(t, 0, f.hub.SessionCount())
}

func TestManager_CloseAll(t *testing.T) {
	// Arrange
	f := newFixture(t)
	s1 := f.inbox(t, "p1")
	s2 := f.notifications(t, "n1")

	// Act
	f.hub.CloseAll(config.CloseGoingAway, "shutdown")

	// Assert
	for _, s := range []*chathub.Session{s1, s2} {
		code, _ := s.CloseInfo()
		assert.Equal(t, config.CloseGoingAway, code)
		assert.Equal(t, chathub.StateClosed, s.State())
	}
	assert.Zero(t, f.hub.SessionCount())

	// no new sessions after shutdown starts
	late := f.hub.NewSession(chathub.SessionOptions{Kind: chathub.KindInbox})
	require.NoError(t, late.Authenticate(context.Background(), f.token(t, "a1")))
	assert.ErrorIs(t, late.Join(context.Background()), chathub.ErrSessionClosed)
	code, _ := late.CloseInfo()
	assert.Equal(t, config.CloseGoingAway, code)
}

func TestNoopNotifier(t *testing.T) {
	assert.NoError(t, chathub.NoopNotifier{}.NotifyOffline(context.Background(), &models.Message{}))
}

func TestNotifiers_CallsEveryNotifier(t *testing.T) {
	// Arrange
	first, second := new(MockNotifier), new(MockNotifier)
	first.On("NotifyOffline", "n1").Return(errors.New("queue down"))
	second.On("NotifyOffline", "n1").Return(nil)
	msg := &models.Message{ID: "m1", SenderID: "p1", ReceiverID: "n1"}

	// Act
	err := chathub.Notifiers{first, second}.NotifyOffline(context.Background(), msg)

	// Assert
	assert.ErrorContains(t, err, "queue down")
	first.AssertExpectations(t)
	second.AssertExpectations(t)
	assert.NoError(t, chathub.Notifiers{}.NotifyOffline(context.Background(), msg))
}
