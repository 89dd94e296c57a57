package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleStudent      = "student"
	RoleTechnician   = "technician"
	RoleHallInCharge = "hall_in_charge"
)

// User is a boundary entity; authentication and account management are
// external. The session core reads id, username, and role.
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	Username  string         `json:"username" gorm:"size:255;not null;uniqueIndex"`
	Role      string         `json:"role" gorm:"size:50;not null;default:'student'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsStaff reports whether the user may act on attempts they do not own.
func (u *User) IsStaff() bool {
	return u.Role == RoleTechnician || u.Role == RoleHallInCharge
}

// CanApproveTransfers reports whether the user holds the supervisory role.
func (u *User) CanApproveTransfers() bool {
	return u.Role == RoleHallInCharge
}
