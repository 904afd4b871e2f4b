package chathub_test

import (
	"clinicmsg/backend/internal/auth"
	"clinicmsg/backend/internal/chathub"
	"clinicmsg/backend/internal/localization"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/internal/storage"
	"clinicmsg/backend/internal/testutil"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorage is a testify mock of storage.Storage for failure paths.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) SetUserStatus(ctx context.Context, id, status string) error {
	return m.Called(id, status).Error(0)
}

func (m *MockStorage) PersistMessage(ctx context.Context, in storage.NewMessage) (*models.Message, error) {
	args := m.Called(in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) AdvanceMessageStatus(ctx context.Context, messageID, requesterID string, status models.MessageStatus) (*models.Message, error) {
	args := m.Called(messageID, requesterID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	args := m.Called(jti)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	return m.Called(jti, ttl).Error(0)
}

// MockNotifier records offline notices.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyOffline(ctx context.Context, msg *models.Message) error {
	return m.Called(msg.ReceiverID).Error(0)
}

// stubAuth maps tokens straight to users.
type stubAuth map[string]*models.User

func (a stubAuth) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	u, ok := a[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Identity{User: u, Claims: &auth.Claims{UserID: u.ID}}, nil
}

const testSecret = "chathub-secret"

type fixture struct {
	hub      *chathub.ManagerService
	store    *storage.Service
	bus      *chathub.MemoryBus
	resolver *auth.Resolver
	users    map[string]*models.User
}

// newFixture seeds a patient, an admin, a nurse, a head nurse and a caregiver.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := testutil.NewStorage(t)
	users := map[string]*models.User{
		"p1":  testutil.SeedUser(t, store, "p1", "Olena", models.RolePatient),
		"p2":  testutil.SeedUser(t, store, "p2", "Taras", models.RolePatient),
		"a1":  testutil.SeedUser(t, store, "a1", "Admin", models.RoleAdmin),
		"n1":  testutil.SeedUser(t, store, "n1", "Iryna", models.RoleNurse),
		"hn1": testutil.SeedUser(t, store, "hn1", "Halyna", models.RoleHeadNurse),
		"c1":  testutil.SeedUser(t, store, "c1", "Petro", models.RoleCaregiver),
	}

	resolver := auth.NewResolver(testSecret, store)
	bus := chathub.NewMemoryBus()
	presence := chathub.NewTracker(chathub.NewMemoryCounter(), store)
	hub := chathub.NewManagerService(store, resolver, bus, presence)

	loc, err := localization.NewLocalizer()
	require.NoError(t, err)
	hub.Localizer = loc

	t.Cleanup(func() { hub.CloseAll(1001, "test done") })
	return &fixture{hub: hub, store: store, bus: bus, resolver: resolver, users: users}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := f.resolver.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

// open runs the full handshake and returns an Active session.
func (f *fixture) open(t *testing.T, userID string, opts chathub.SessionOptions) *chathub.Session {
	t.Helper()
	s := f.hub.NewSession(opts)
	ctx := context.Background()
	require.NoError(t, s.Authenticate(ctx, f.token(t, userID)))
	require.NoError(t, s.Join(ctx))
	require.NoError(t, s.Activate())
	return s
}

func (f *fixture) conversation(t *testing.T, userID, peerID string, chatType models.ChatType) *chathub.Session {
	return f.open(t, userID, chathub.SessionOptions{Kind: chathub.KindConversation, ChatType: chatType, PeerID: peerID})
}

func (f *fixture) inbox(t *testing.T, userID string) *chathub.Session {
	return f.open(t, userID, chathub.SessionOptions{Kind: chathub.KindInbox})
}

func (f *fixture) notifications(t *testing.T, userID string) *chathub.Session {
	return f.open(t, userID, chathub.SessionOptions{Kind: chathub.KindNotifications})
}

// drain returns every event currently queued on the session.
func drain(t *testing.T, s *chathub.Session) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for {
		select {
		case raw, ok := <-s.Send():
			if !ok {
				return out
			}
			var ev map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(events []map[string]interface{}, eventType models.EventType) []map[string]interface{} {
	var out []map[string]interface{}
	for _, ev := range events {
		if ev["type"] == string(eventType) {
			out = append(out, ev)
		}
	}
	return out
}

func frame(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// collector subscribes to groups and records what arrives.
type collector struct {
	mu     sync.Mutex
	events map[chathub.Group][]chathub.Event
}

func collect(t *testing.T, bus chathub.Bus, groups ...chathub.Group) *collector {
	t.Helper()
	c := &collector{events: make(map[chathub.Group][]chathub.Event)}
	for _, g := range groups {
		g := g
		sub, err := bus.Subscribe(context.Background(), g, func(ev chathub.Event) {
			c.mu.Lock()
			c.events[g] = append(c.events[g], ev)
			c.mu.Unlock()
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = sub.Close() })
	}
	return c
}

func (c *collector) count(g chathub.Group, eventType models.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events[g] {
		if ev.Type == string(eventType) {
			n++
		}
	}
	return n
}

func (c *collector) total(g chathub.Group) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events[g])
}
