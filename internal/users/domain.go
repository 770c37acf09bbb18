package users

import "time"

// Roles recognised by the automation passes.
const (
	RolePartner = "PARTNER"
	RoleStaff   = "STAFF"
	RoleSystem  = "SYSTEM"
)

// User represents a practice user account.
type User struct {
	ID                 int64
	Email              string
	Name               string
	Role               string
	IsActive           bool
	EmailNotifications bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SystemActor is the reserved identity recorded on automated transitions so
// history queries can tell human and automated actions apart. It is never a
// row in the users table.
var SystemActor = User{
	ID:    0,
	Email: "system@arden.local",
	Name:  "SYSTEM",
	Role:  RoleSystem,
}
