package session

import (
	"context"
	"time"
)

// Session mirrors what the relay knows about one live connection.
type Session struct {
	ID          string    `json:"session_id"`
	Rooms       []string  `json:"rooms"`
	ConnectedAt time.Time `json:"connected_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SessionCache interface {
	SetSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// NopCache is used when no session store is configured.
type NopCache struct{}

func (NopCache) SetSession(context.Context, *Session) error { return nil }

func (NopCache) DeleteSession(context.Context, string) error { return nil }
