package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the clinic role of a user.
type Role string

const (
	RolePatient   Role = "patient"
	RoleAdmin     Role = "admin"
	RoleNurse     Role = "nurse"
	RoleHeadNurse Role = "head_nurse"
	RoleCaregiver Role = "caregiver"
)

// IsProvider reports whether the role belongs to nursing staff.
func (r Role) IsProvider() bool {
	return r == RoleNurse || r == RoleHeadNurse
}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleAdmin, RoleNurse, RoleHeadNurse, RoleCaregiver:
		return true
	}
	return false
}

// Presence status stored on the user row.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// User представляє користувача клініки. Сервіс повідомлень лише читає
// користувачів і ніколи їх не створює.
type User struct {
	ID             string  `gorm:"primaryKey" json:"id"`
	Name           string  `json:"name"`
	Role           Role    `gorm:"index" json:"role"`
	Status         string  `gorm:"default:offline" json:"status"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
}

// BeforeCreate generates a UUID when the ID is not set.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Status == "" {
		u.Status = StatusOffline
	}
	return
}

// Avatar returns the profile picture URL or an empty string.
func (u *User) Avatar() string {
	if u.ProfilePicture == nil {
		return ""
	}
	return *u.ProfilePicture
}

// ChatType is the role context of a conversation endpoint.
type ChatType string

const (
	ChatNurse     ChatType = "nurse"
	ChatHeadNurse ChatType = "head_nurse"
	ChatAdmin     ChatType = "admin"
	ChatPatient   ChatType = "patient"
)

// ParseChatType validates a chat type taken from the URL.
func ParseChatType(s string) (ChatType, bool) {
	switch ct := ChatType(s); ct {
	case ChatNurse, ChatHeadNurse, ChatAdmin, ChatPatient:
		return ct, true
	}
	return "", false
}
