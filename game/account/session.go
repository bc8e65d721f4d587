package account

import "github.com/google/uuid"

// Session is the presence of an account's owner on this server.
type Session interface {
	Identity() uuid.UUID
	Name() string
	// Online reports whether the session is still connected.
	Online() bool
	// Notify delivers a user-facing message.
	Notify(msg string)
}
