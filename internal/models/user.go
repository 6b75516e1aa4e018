package models

import "time"

// User represents an authenticated user. Users arrive either through local
// signup or lazily on the first identity-provider callback, keyed by email.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Email     string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name      string    `gorm:"size:255" json:"name,omitempty"`
	// Password holds the bcrypt hash for local accounts. Users provisioned
	// through the identity callback have no password.
	Password string    `gorm:"size:255" json:"-"`
	Invoices []Invoice `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"invoices,omitempty"`
}
