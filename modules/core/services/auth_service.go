package services

import (
	"context"
	"strconv"

	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/statestore"
	"github.com/cultivarhq/cultivar/pkg/tokens"
)

// AuthService authenticates agents by login token. Failed attempts are
// counted per claimed identity; the lockout is consulted before any
// cryptography so a locked identity cannot probe the secret.
type AuthService struct {
	signer *tokens.Signer
	store  statestore.Store
}

func NewAuthService(signer *tokens.Signer, store statestore.Store) *AuthService {
	return &AuthService{signer: signer, store: store}
}

// IssueLogin issues a login token for an agent.
func (s *AuthService) IssueLogin(agentID int64) (string, error) {
	return s.signer.Sign(tokens.PurposeLogin, strconv.FormatInt(agentID, 10))
}

// Authenticate verifies a login token and returns the agent id. The
// identifier is the identity the caller claims; it keys the brute-force
// counter, not the verification.
func (s *AuthService) Authenticate(ctx context.Context, identifier, token string) (int64, error) {
	if identifier == "" {
		return 0, serrors.Unauthorised("authentication requires an identity")
	}
	locked, err := s.store.IsLockedOut(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if locked {
		return 0, serrors.Unauthorised("identity %s is locked out", identifier)
	}

	subject, err := s.signer.Verify(tokens.PurposeLogin, token)
	if err != nil {
		if _, _, recordErr := s.store.RecordLoginFailure(ctx, identifier); recordErr != nil {
			return 0, recordErr
		}
		return 0, err
	}
	agentID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || agentID == 0 {
		return 0, serrors.Unauthorised("login token names no agent")
	}
	if err := s.store.ResetLoginAttempts(ctx, identifier); err != nil {
		return 0, err
	}
	return agentID, nil
}
