package chathub

import (
	"clinicmsg/backend/internal/auth"
	"clinicmsg/backend/internal/config"
	"clinicmsg/backend/internal/localization"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/internal/storage"
	"clinicmsg/backend/pkg/logger"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// OfflineNotifier hands a message to the external notification service when
// its receiver has no open connection.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, msg *models.Message) error
}

// NoopNotifier drops offline notices.
type NoopNotifier struct{}

func (NoopNotifier) NotifyOffline(context.Context, *models.Message) error { return nil }

// Notifiers hands each notice to every notifier in turn and returns the
// joined errors.
type Notifiers []OfflineNotifier

func (n Notifiers) NotifyOffline(ctx context.Context, msg *models.Message) error {
	var errs []error
	for _, notifier := range n {
		if err := notifier.NotifyOffline(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ManagerService holds the shared dependencies of every session and tracks
// the live ones so they can be closed on shutdown.
type ManagerService struct {
	Storage   storage.Storage
	Auth      Authenticator
	Bus       Bus
	Presence  Presence
	Router    *Router
	Notifier  OfflineNotifier
	Localizer *localization.Localizer

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool

	notices sync.WaitGroup
}

func NewManagerService(s storage.Storage, authn Authenticator, bus Bus, presence Presence) *ManagerService {
	return &ManagerService{
		Storage:  s,
		Auth:     authn,
		Bus:      bus,
		Presence: presence,
		Router:   NewRouter(presence),
		Notifier: NoopNotifier{},
		sessions: make(map[string]*Session),
	}
}

func (m *ManagerService) register(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.sessions[s.ID] = s
	return true
}

func (m *ManagerService) unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

// SessionCount returns the number of live sessions.
func (m *ManagerService) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every live session with code and refuses new ones.
func (m *ManagerService) CloseAll(code int, reason string) {
	m.mu.Lock()
	m.closing = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Close(code, reason)
	}
	logger.Info().Int("sessions", len(live)).Msg("closed live sessions")
}

// notifyOffline hands msg to the Notifier off the caller's goroutine. Each
// notice gets its own deadline and outlives the session that sent it.
func (m *ManagerService) notifyOffline(msg *models.Message, log zerolog.Logger) {
	m.notices.Add(1)
	go func() {
		defer m.notices.Done()
		ctx, cancel := context.WithTimeout(context.Background(), config.OfflineNoticeTimeout)
		defer cancel()
		if err := m.Notifier.NotifyOffline(ctx, msg); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("offline notice failed")
		}
	}()
}

// Wait blocks until every offline notice started so far has finished.
func (m *ManagerService) Wait() {
	m.notices.Wait()
}
