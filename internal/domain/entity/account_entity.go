package entity

import (
	"time"
)

// Account is the login identity that owns a student profile.
// Email doubles as the username; Password holds a bcrypt hash.
type Account struct {
	ID        int64
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
	AvatarURL string
	IsActive  bool
	Groups    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName joins first and last name for greetings and search documents.
func (a *Account) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}
