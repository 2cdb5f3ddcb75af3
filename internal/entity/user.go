package entity

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID    uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Name  string    `gorm:"type:varchar(255)"`

	// Role is empty until an administrator assigns one; users without a
	// role cannot complete login.
	Role string `gorm:"type:varchar(50)"`

	OrganizationID *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Sessions []Session
}
