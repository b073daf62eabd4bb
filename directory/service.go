package directory

import (
	"context"
	"errors"
)

// ErrNotAgent signals a rank lookup against a user who is not an escrow
// agent.
var ErrNotAgent = errors.New("directory: not an escrow agent")

// Service resolves user ids to participant views and agent ranks.
type Service struct {
	repo     Repository
	presence Presence
}

func NewService(repo Repository, presence Presence) *Service {
	if presence == nil {
		presence = NewNoopPresence()
	}
	return &Service{repo: repo, presence: presence}
}

// Resolve returns the participant view for userID, including best-effort
// presence. Presence lookup failures degrade to offline rather than failing
// the resolve.
func (s *Service) Resolve(ctx context.Context, userID string) (Participant, error) {
	p, _, err := s.repo.Get(ctx, userID)
	if err != nil {
		return Participant{}, err
	}

	online, err := s.presence.Online(ctx, userID)
	if err == nil {
		p.Online = online
	}
	return p, nil
}

// Rank returns the trust tier for an escrow agent.
func (s *Service) Rank(ctx context.Context, userID string) (Rank, error) {
	p, deals, err := s.repo.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.Role != "escrow_agent" {
		return "", ErrNotAgent
	}
	return RankFor(deals), nil
}

// Heartbeat refreshes the caller's presence entry.
func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	return s.presence.Heartbeat(ctx, userID)
}

// Disconnected clears the caller's presence entry.
func (s *Service) Disconnected(ctx context.Context, userID string) error {
	return s.presence.Clear(ctx, userID)
}

// Online reports whether the user currently has a live connection.
func (s *Service) Online(ctx context.Context, userID string) (bool, error) {
	return s.presence.Online(ctx, userID)
}
