package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionKey string
type EventID string

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

// NewSessionKey builds the serialization key for an (owner, context) pair.
func NewSessionKey(ownerID, contextKey string) SessionKey {
	return SessionKey(strings.Join([]string{ownerID, contextKey}, "\x1f"))
}
