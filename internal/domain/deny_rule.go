package domain

import "time"

// DenyRule blocks forwarding to any target URL matched by Pattern.
// Rules are immutable once loaded; the active set is replaced wholesale.
type DenyRule struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Pattern     string    `gorm:"not null" json:"pattern"`
	Description string    `gorm:"default:''" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"-"`
}
