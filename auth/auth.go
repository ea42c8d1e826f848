// Package auth defines the authentication collaborator consulted by the
// proxy core before dialing upstream, and a static provider suitable for
// offline-mode or pre-shared-token deployments.
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Session is the result of a successful authentication or token refresh.
type Session struct {
	AccessToken string
	ClientToken string
	Username    string
	UUID        uuid.UUID
}

// Provider authenticates a user and refreshes expired sessions. The proxy
// core calls Authenticate with the client's presented username while
// handling the client's login, before it dials upstream; it never calls
// Refresh.
type Provider interface {
	Authenticate(ctx context.Context, username, password string) (Session, error)
	Refresh(ctx context.Context, clientToken string) (Session, error)
}

// StaticProvider hands back a fixed, pre-provisioned Session regardless of
// the credentials presented, for offline-mode proxies or test harnesses
// where no real authentication server is involved.
type StaticProvider struct {
	Session Session
}

// NewStaticProvider derives a deterministic offline-mode UUID from username,
// matching the teacher's convention of deriving identifiers from stable
// inputs rather than issuing new random ones per connection.
func NewStaticProvider(username string) *StaticProvider {
	return &StaticProvider{
		Session: Session{
			Username: username,
			UUID:     uuid.NewSHA1(uuid.Nil, []byte("OfflinePlayer:"+username)),
		},
	}
}

func (p *StaticProvider) Authenticate(ctx context.Context, username, password string) (Session, error) {
	s := p.Session
	if s.Username == "" {
		s.Username = username
	}
	return s, nil
}

func (p *StaticProvider) Refresh(ctx context.Context, clientToken string) (Session, error) {
	if clientToken != p.Session.ClientToken {
		return Session{}, fmt.Errorf("auth: unknown client token")
	}
	return p.Session, nil
}
