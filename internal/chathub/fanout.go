package chathub

import (
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/pkg/logger"
	"context"
)

// FanoutPolicy says which summary events a message produces besides the
// conversation event.
type FanoutPolicy struct {
	InboxSender    bool
	InboxReceiver  bool
	NotifyReceiver bool
}

type rolePair struct {
	sender, receiver models.Role
}

var (
	inboxBoth = FanoutPolicy{InboxSender: true, InboxReceiver: true}

	// patient writes to staff: the patient keeps the summary, staff get an alert
	patientToProvider = FanoutPolicy{InboxSender: true, NotifyReceiver: true}

	// staff reply: only the patient's inbox is updated
	providerToPatient = FanoutPolicy{InboxReceiver: true}
)

// DefaultPolicies is the role table. Pairs not listed fall back to DefaultPolicy.
var DefaultPolicies = map[rolePair]FanoutPolicy{
	{models.RolePatient, models.RoleAdmin}:     inboxBoth,
	{models.RoleAdmin, models.RolePatient}:     inboxBoth,
	{models.RolePatient, models.RoleNurse}:     patientToProvider,
	{models.RolePatient, models.RoleHeadNurse}: patientToProvider,
	{models.RoleNurse, models.RolePatient}:     providerToPatient,
	{models.RoleHeadNurse, models.RolePatient}: providerToPatient,
}

var DefaultPolicy = inboxBoth

// Delivery is one event bound for one group.
type Delivery struct {
	Group Group
	Event Event
}

// RouteInput is a persisted message with both participants resolved.
type RouteInput struct {
	Message  *models.Message
	Sender   *models.User
	Receiver *models.User
	ChatType models.ChatType
}

// Router turns a persisted message into per-destination events.
type Router struct {
	Presence Presence
	Policies map[rolePair]FanoutPolicy
}

func NewRouter(presence Presence) *Router {
	return &Router{Presence: presence, Policies: DefaultPolicies}
}

// PolicyFor looks up the fanout policy of a sender/receiver role pair.
func (r *Router) PolicyFor(sender, receiver models.Role) FanoutPolicy {
	if p, ok := r.Policies[rolePair{sender, receiver}]; ok {
		return p
	}
	return DefaultPolicy
}

// Route returns the conversation event followed by the inbox and notification
// events the role table calls for.
func (r *Router) Route(ctx context.Context, in RouteInput) ([]Delivery, error) {
	msg := in.Message
	conv := ConversationGroup(in.Sender.ID, in.Receiver.ID, in.ChatType)

	chat, err := NewEvent(string(models.EventChatMessage), msg.SenderID, models.NewChatMessageEvent(msg))
	if err != nil {
		return nil, err
	}
	out := []Delivery{{Group: conv, Event: chat}}

	policy := r.PolicyFor(in.Sender.Role, in.Receiver.Role)

	if policy.InboxSender {
		ev, err := r.inboxEvent(ctx, conv, in, in.Receiver, false)
		if err != nil {
			return nil, err
		}
		out = append(out, Delivery{Group: InboxGroup(in.Sender.ID), Event: ev})
	}
	if policy.InboxReceiver {
		ev, err := r.inboxEvent(ctx, conv, in, in.Sender, !msg.IsRead)
		if err != nil {
			return nil, err
		}
		out = append(out, Delivery{Group: InboxGroup(in.Receiver.ID), Event: ev})
	}
	if policy.NotifyReceiver {
		ev, err := NewEvent(string(models.EventNotification), msg.SenderID, models.NotificationEvent{
			Type:         models.EventNotification,
			MessageID:    msg.ID,
			SenderID:     in.Sender.ID,
			SenderName:   in.Sender.Name,
			SenderAvatar: in.Sender.Avatar(),
			ChatType:     in.ChatType,
			Preview:      msg.Preview(),
			Timestamp:    msg.DateSent,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, Delivery{Group: NotificationGroup(in.Receiver.ID), Event: ev})
	}

	return out, nil
}

// inboxEvent shapes the summary of the conversation with peer.
func (r *Router) inboxEvent(ctx context.Context, conv Group, in RouteInput, peer *models.User, unread bool) (Event, error) {
	online := false
	if r.Presence != nil {
		var err error
		if online, err = r.Presence.IsOnline(ctx, peer.ID); err != nil {
			logger.Warn().Err(err).Str("user_id", peer.ID).Msg("presence lookup failed")
			online = peer.Status == models.StatusOnline
		}
	}

	msg := in.Message
	return NewEvent(string(models.EventInboxUpdate), peer.ID, models.InboxEvent{
		Type:           models.EventInboxUpdate,
		ConversationID: string(conv),
		ChatType:       in.ChatType,
		PeerID:         peer.ID,
		PeerName:       peer.Name,
		PeerAvatar:     peer.Avatar(),
		PeerOnline:     online,
		LastMessage:    msg.Preview(),
		HasImage:       msg.HasImage(),
		Unread:         unread,
		MessageID:      msg.ID,
		Timestamp:      msg.DateSent,
	})
}
