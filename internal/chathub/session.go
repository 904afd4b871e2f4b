package chathub

import (
	"clinicmsg/backend/internal/attachment"
	"clinicmsg/backend/internal/auth"
	"clinicmsg/backend/internal/config"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/internal/storage"
	"clinicmsg/backend/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrPeerNotFound      = errors.New("chathub: peer not found")
	ErrSelfConversation  = errors.New("chathub: conversation with self")
	ErrSessionClosed     = errors.New("chathub: session closed")
	ErrInvalidTransition = errors.New("chathub: invalid state transition")
)

// SessionKind is the endpoint a session was opened on.
type SessionKind string

const (
	KindConversation  SessionKind = "conversation"
	KindInbox         SessionKind = "inbox"
	KindNotifications SessionKind = "notifications"
)

type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateJoined
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SessionOptions describe the endpoint being opened.
type SessionOptions struct {
	Kind     SessionKind
	ChatType models.ChatType
	PeerID   string
	Language string
}

// Session is one live connection. Fields below mu are filled in as the
// session moves through its states.
type Session struct {
	ID       string
	Kind     SessionKind
	ChatType models.ChatType
	PeerID   string
	Language string

	hub     *ManagerService
	log     zerolog.Logger
	limiter *rate.Limiter

	// canceled on Close
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        SessionState
	identity     *auth.Identity
	peer         *models.User
	subs         []Subscription
	presenceHeld bool
	closeCode    int
	closeReason  string

	sendMu     sync.RWMutex
	send       chan []byte
	sendClosed bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a session in the Connecting state.
func (m *ManagerService) NewSession(opts SessionOptions) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}

	return &Session{
		ID:       id,
		Kind:     opts.Kind,
		ChatType: opts.ChatType,
		PeerID:   opts.PeerID,
		Language: lang,
		hub:      m,
		log:      logger.With().Str("session_id", id).Str("kind", string(opts.Kind)).Logger(),
		limiter:  rate.NewLimiter(rate.Limit(config.FrameRateLimit), config.FrameRateBurst),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateConnecting,
		send:     make(chan []byte, config.SendBufferSize),
		done:     make(chan struct{}),
	}
}

// Send is the outbound queue drained by the transport writer. It is closed
// when the session closes.
func (s *Session) Send() <-chan []byte { return s.send }

// Done is closed once the session has released everything.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CloseInfo returns the close code and reason recorded by Close.
func (s *Session) CloseInfo() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode, s.closeReason
}

// UserID is empty before authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.UserID()
}

func (s *Session) transition(from, to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		if s.state == StateClosed {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

// handshakeCloseCode maps a handshake failure to its close code.
func handshakeCloseCode(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return config.CloseHandshakeTimeout
	case errors.Is(err, auth.ErrMissingToken):
		return config.CloseNoCredential
	case errors.Is(err, auth.ErrInvalidToken):
		return config.CloseInvalidCredential
	case errors.Is(err, auth.ErrUserNotFound):
		return config.CloseUserNotFound
	case errors.Is(err, ErrPeerNotFound):
		return config.ClosePeerNotFound
	case errors.Is(err, ErrSelfConversation):
		return config.CloseSelfConversation
	}
	return config.CloseInternalError
}

// Authenticate moves Connecting -> Authenticated. On failure the session is
// closed with a cause specific code and the error is returned.
func (s *Session) Authenticate(ctx context.Context, token string) error {
	if s.State() != StateConnecting {
		return s.transition(StateConnecting, StateAuthenticated)
	}

	identity, err := s.hub.Auth.Authenticate(ctx, token)
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		s.Reject(err)
		return err
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.identity = identity
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.log = s.log.With().Str("user_id", identity.UserID()).Logger()
	return nil
}

// Reject closes a session whose credential could not be used, with the close
// code for err.
func (s *Session) Reject(err error) {
	s.log.Info().Err(err).Msg("handshake rejected")
	s.Close(handshakeCloseCode(err), "authentication failed")
}

// Join moves Authenticated -> Joined: resolves the peer, subscribes to the
// session's groups and marks the user online. A conversation also watches the
// peer's presence and receives its current state first.
func (s *Session) Join(ctx context.Context) error {
	if s.State() != StateAuthenticated {
		return s.transition(StateAuthenticated, StateJoined)
	}
	if !s.hub.register(s) {
		s.Close(config.CloseGoingAway, "server shutting down")
		return ErrSessionClosed
	}

	me := s.identity.User
	var groups []Group

	switch s.Kind {
	case KindConversation:
		if s.PeerID == me.ID {
			s.sendError(config.ErrCodeSelfConversation)
			s.Close(config.CloseSelfConversation, "conversation with self")
			return ErrSelfConversation
		}
		peer, err := s.hub.Storage.GetUserByID(ctx, s.PeerID)
		if errors.Is(err, storage.ErrUserNotFound) {
			s.sendError(config.ErrCodePeerNotFound)
			s.Close(config.ClosePeerNotFound, "peer not found")
			return ErrPeerNotFound
		}
		if err != nil {
			return s.failJoin(ctx, err)
		}
		s.mu.Lock()
		s.peer = peer
		s.mu.Unlock()
		groups = []Group{ConversationGroup(me.ID, peer.ID, s.ChatType), PresenceGroup(peer.ID)}
	case KindInbox:
		groups = []Group{InboxGroup(me.ID)}
	case KindNotifications:
		groups = []Group{NotificationGroup(me.ID)}
	default:
		return s.failJoin(ctx, fmt.Errorf("unknown session kind %q", s.Kind))
	}

	for _, g := range groups {
		sub, err := s.hub.Bus.Subscribe(ctx, g, s.handle)
		if err != nil {
			return s.failJoin(ctx, err)
		}
		s.mu.Lock()
		closed := s.state == StateClosed
		if !closed {
			s.subs = append(s.subs, sub)
		}
		s.mu.Unlock()
		if closed {
			_ = sub.Close()
			return ErrSessionClosed
		}
		go s.watch(sub)
	}

	if _, err := s.hub.Presence.Connect(ctx, me.ID); err != nil {
		return s.failJoin(ctx, err)
	}
	s.mu.Lock()
	closed := s.state == StateClosed
	if !closed {
		s.presenceHeld = true
	}
	s.mu.Unlock()
	if closed {
		// Close ran while Connect was in flight and saw nothing to release
		s.releasePresence(me.ID)
		return ErrSessionClosed
	}

	if s.Kind == KindConversation {
		s.presenceSnapshot(ctx)
	}
	s.publishPresence(ctx, me.ID, true)

	if ctx.Err() != nil {
		return s.failJoin(ctx, ctx.Err())
	}
	if err := s.transition(StateAuthenticated, StateJoined); err != nil {
		return err
	}
	s.log.Debug().Int("groups", len(groups)).Msg("session joined")
	return nil
}

func (s *Session) failJoin(ctx context.Context, err error) error {
	s.log.Error().Err(err).Msg("join failed")
	code := config.CloseInternalError
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		code = config.CloseHandshakeTimeout
	}
	s.Close(code, "join failed")
	return err
}

// presenceSnapshot delivers the peer's current state to this session.
func (s *Session) presenceSnapshot(ctx context.Context) {
	online, err := s.hub.Presence.IsOnline(ctx, s.PeerID)
	if err != nil {
		s.log.Warn().Err(err).Msg("peer presence lookup failed")
	}
	if raw, err := json.Marshal(models.NewPresenceEvent(s.PeerID, online)); err == nil {
		s.deliver(raw)
	}
}

// publishPresence tells every conversation watching userID its state after
// this session's connect or disconnect.
func (s *Session) publishPresence(ctx context.Context, userID string, online bool) {
	ev, err := NewEvent(string(models.EventPresence), userID, models.NewPresenceEvent(userID, online))
	if err != nil {
		return
	}
	if err := s.hub.Bus.Publish(ctx, PresenceGroup(userID), ev); err != nil {
		s.log.Warn().Err(err).Bool("online", online).Msg("presence publish failed")
	}
}

// releasePresence drops this session's connection and publishes the state left behind.
func (s *Session) releasePresence(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.InflightTimeout)
	defer cancel()

	online, err := s.hub.Presence.Disconnect(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Msg("presence disconnect failed")
		return
	}
	s.publishPresence(ctx, userID, online)
}

// Activate moves Joined -> Active; frames are accepted from here on.
func (s *Session) Activate() error {
	return s.transition(StateJoined, StateActive)
}

func (s *Session) handle(ev Event) {
	s.deliver(ev.Payload)
}

// watch closes the session if the bus loses the subscription.
func (s *Session) watch(sub Subscription) {
	select {
	case err := <-sub.Err():
		s.log.Error().Err(err).Str("group", string(sub.Group())).Msg("bus subscription lost")
		s.Close(config.CloseInternalError, "bus failure")
	case <-s.done:
	}
}

// deliver queues payload for the client without blocking. A full queue means
// the client is not keeping up; it is disconnected.
func (s *Session) deliver(payload []byte) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return
	}

	select {
	case s.send <- payload:
	default:
		s.log.Warn().Msg("send buffer full, closing session")
		go s.Close(config.ClosePolicyViolation, "send buffer overflow")
	}
}

func (s *Session) sendError(code string) {
	msg := s.hub.Localizer.GetString(s.Language, code)
	raw, err := json.Marshal(models.NewErrorEvent(code, msg))
	if err != nil {
		return
	}
	s.deliver(raw)
}

// HandleFrame processes one inbound frame. Only an Active session accepts frames.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) error {
	if st := s.State(); st != StateActive {
		if st == StateClosed {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: frame in state %s", ErrInvalidTransition, st)
	}

	if !s.limiter.Allow() {
		s.sendError(config.ErrCodeRateLimited)
		return nil
	}

	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.sendError(config.ErrCodeMalformedFrame)
		return nil
	}

	if s.Kind != KindConversation {
		s.sendError(config.ErrCodeUnsupportedFrame)
		return nil
	}

	switch {
	case frame.IsReceipt():
		s.handleReceipt(ctx, frame)
	case frame.IsContent():
		s.handleContent(ctx, frame)
	default:
		s.sendError(config.ErrCodeMalformedFrame)
	}
	return nil
}

func (s *Session) handleContent(ctx context.Context, frame models.InboundFrame) {
	me := s.identity.User
	// a started write finishes even if the connection goes away meanwhile
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.InflightTimeout)
	defer cancel()

	msg, err := s.hub.Storage.PersistMessage(opCtx, storage.NewMessage{
		SenderID:   me.ID,
		ReceiverID: s.peer.ID,
		Text:       frame.Message,
		ImageData:  frame.ImageData,
	})
	if err != nil {
		s.log.Info().Err(err).Msg("message rejected")
		s.sendError(contentErrorCode(err))
		return
	}

	deliveries, err := s.hub.Router.Route(opCtx, RouteInput{
		Message:  msg,
		Sender:   me,
		Receiver: s.peer,
		ChatType: s.ChatType,
	})
	if err != nil {
		s.log.Error().Err(err).Str("message_id", msg.ID).Msg("routing failed")
		s.sendError(config.ErrCodeDeliveryFailed)
		return
	}

	failed := false
	for _, d := range deliveries {
		if err := s.hub.Bus.Publish(opCtx, d.Group, d.Event); err != nil {
			s.log.Error().Err(err).Str("group", string(d.Group)).Msg("publish failed")
			failed = true
		}
	}
	if failed {
		s.sendError(config.ErrCodeDeliveryFailed)
	}

	s.notifyIfOffline(opCtx, msg)
}

func (s *Session) notifyIfOffline(ctx context.Context, msg *models.Message) {
	online, err := s.hub.Presence.IsOnline(ctx, msg.ReceiverID)
	if err != nil || online {
		return
	}
	s.hub.notifyOffline(msg, s.log)
}

func contentErrorCode(err error) string {
	switch {
	case errors.Is(err, storage.ErrEmptyMessage):
		return config.ErrCodeEmptyMessage
	case errors.Is(err, attachment.ErrAttachmentTooLarge):
		return config.ErrCodeAttachmentTooLarge
	case errors.Is(err, attachment.ErrInvalidDataURL):
		return config.ErrCodeInvalidAttachment
	}
	return config.ErrCodeStorage
}

func (s *Session) handleReceipt(ctx context.Context, frame models.InboundFrame) {
	if frame.MessageID == "" {
		s.sendError(config.ErrCodeMalformedFrame)
		return
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.InflightTimeout)
	defer cancel()

	_, err := s.hub.Storage.AdvanceMessageStatus(opCtx, frame.MessageID, s.identity.User.ID, frame.ReceiptStatus())
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrPermission), errors.Is(err, storage.ErrMessageNotFound):
		// not revealed to the requester
		s.log.Debug().Err(err).Str("message_id", frame.MessageID).Msg("receipt ignored")
	case errors.Is(err, storage.ErrStatusRegression):
		s.sendError(config.ErrCodeStatusRegression)
	default:
		s.log.Error().Err(err).Str("message_id", frame.MessageID).Msg("receipt failed")
		s.sendError(config.ErrCodeStorage)
	}
}

// Close releases every subscription and the presence hold, tells the peer the
// user's resulting state and closes the outbound queue. Safe to call many times.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.closeCode = code
		s.closeReason = reason
		subs := s.subs
		s.subs = nil
		held := s.presenceHeld
		s.presenceHeld = false
		var userID string
		if s.identity != nil {
			userID = s.identity.UserID()
		}
		s.mu.Unlock()

		s.cancel()

		for _, sub := range subs {
			if err := sub.Close(); err != nil {
				s.log.Warn().Err(err).Str("group", string(sub.Group())).Msg("unsubscribe failed")
			}
		}

		if held {
			s.releasePresence(userID)
		}

		s.hub.unregister(s)

		s.sendMu.Lock()
		s.sendClosed = true
		close(s.send)
		s.sendMu.Unlock()

		close(s.done)
		s.log.Debug().Int("code", code).Str("reason", reason).Msg("session closed")
	})
}
