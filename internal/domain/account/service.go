package account

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/patients/internal/platform/auth"
)

// Session is the result of a successful login.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

type Service struct {
	creds  auth.CredentialStore
	tokens *auth.TokenService
}

func NewService(creds auth.CredentialStore, tokens *auth.TokenService) *Service {
	return &Service{creds: creds, tokens: tokens}
}

func (s *Service) Signup(ctx context.Context, username, password string) error {
	if err := s.creds.Register(ctx, username, password); err != nil {
		return fmt.Errorf("signup %q: %w", username, err)
	}
	return nil
}

// Login verifies the credentials and issues a token with the default
// lifetime. Unknown users and wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.creds.Verify(ctx, username, password)
	if err != nil {
		return nil, err
	}
	tok, exp, err := s.tokens.Issue(u.Username, 0)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken: tok,
		TokenType:   auth.TokenType,
		ExpiresIn:   int64(s.tokens.DefaultTTL().Seconds()),
		ExpiresAt:   exp,
	}, nil
}
