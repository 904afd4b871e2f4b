package chathub

import (
	"clinicmsg/backend/internal/models"
	"strconv"
	"strings"
)

// Group is the name of a broadcast channel on the Bus.
type Group string

const (
	conversationPrefix = "conversation:"
	inboxPrefix        = "inbox:"
	presencePrefix     = "presence:"
	notificationPrefix = "notifications:"
)

// ConversationGroup names the 1:1 conversation between a and b in a chat type.
// The pair is ordered before encoding, and every part is length prefixed so
// distinct (pair, chatType) combinations never share a name.
func ConversationGroup(a, b string, chatType models.ChatType) Group {
	if b < a {
		a, b = b, a
	}

	var sb strings.Builder
	sb.WriteString(conversationPrefix)
	writePart(&sb, string(chatType))
	sb.WriteByte(':')
	writePart(&sb, a)
	sb.WriteByte(':')
	writePart(&sb, b)
	return Group(sb.String())
}

func writePart(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

// InboxGroup carries conversation summaries for one user.
func InboxGroup(userID string) Group {
	return Group(inboxPrefix + userID)
}

// PresenceGroup carries presence updates about one user to every
// conversation open with them.
func PresenceGroup(userID string) Group {
	return Group(presencePrefix + userID)
}

// NotificationGroup carries alerts for provider staff.
func NotificationGroup(userID string) Group {
	return Group(notificationPrefix + userID)
}
