package domain

import "time"

// UserStatus defines the possible statuses of a local account.
type UserStatus string

const (
	UserStatusActive UserStatus = "ACTIVE"
	UserStatusLocked UserStatus = "LOCKED"
)

// User represents a local account in the directory. The directory itself is
// provided by the surrounding system; this core only reads, creates and
// profile-merges these records.
type User struct {
	ID           string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserName     string     `bson:"user_name" json:"user_name"`
	Email        string     `bson:"email,omitempty" json:"email,omitempty"`
	DisplayName  string     `bson:"display_name,omitempty" json:"display_name,omitempty"`
	Locale       string     `bson:"locale,omitempty" json:"locale,omitempty"`
	TimeZone     string     `bson:"time_zone,omitempty" json:"time_zone,omitempty"`
	PasswordHash string     `bson:"password_hash,omitempty" json:"-"`
	Status       UserStatus `bson:"status" json:"status"`
	Roles        []string   `bson:"roles,omitempty" json:"roles,omitempty"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`

	// Version is bumped by the directory on every update (optimistic locking).
	Version int64 `bson:"version,omitempty" json:"-"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
