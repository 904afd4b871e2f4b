package models

import "time"

// RevokedToken records a blacklisted token id when Redis is not configured.
type RevokedToken struct {
	JTI       string    `gorm:"primaryKey"`
	ExpiresAt time.Time `gorm:"index"`
}
