package directory

import (
	"context"
	"errors"
	"testing"
)

func TestRankFor(t *testing.T) {
	cases := []struct {
		deals int
		want  Rank
	}{
		{0, RankBronze},
		{499, RankBronze},
		{500, RankGold},
		{999, RankGold},
		{1000, RankPlatinumI},
		{2499, RankPlatinumI},
		{2500, RankPlatinumII},
		{4999, RankPlatinumII},
		{5000, RankPlatinumIII},
		{9999, RankPlatinumIII},
		{10000, RankExclusive},
		{250000, RankExclusive},
	}
	for _, tc := range cases {
		if got := RankFor(tc.deals); got != tc.want {
			t.Errorf("RankFor(%d) = %s, want %s", tc.deals, got, tc.want)
		}
	}
}

func TestService_Resolve(t *testing.T) {
	repo := &fakeDirectoryRepo{participants: map[string]fakeEntry{
		"u1": {p: Participant{ID: "u1", Username: "alice", Role: "buyer"}},
	}}
	svc := NewService(repo, nil)

	p, err := svc.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Username != "alice" {
		t.Fatalf("expected username alice, got %q", p.Username)
	}
	if p.Online {
		t.Fatal("expected offline with noop presence")
	}

	if _, err := svc.Resolve(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_RankRequiresAgentRole(t *testing.T) {
	repo := &fakeDirectoryRepo{participants: map[string]fakeEntry{
		"agent": {p: Participant{ID: "agent", Username: "middleman", Role: "escrow_agent"}, deals: 1000},
		"buyer": {p: Participant{ID: "buyer", Username: "bob", Role: "buyer"}, deals: 9000},
	}}
	svc := NewService(repo, nil)

	rank, err := svc.Rank(context.Background(), "agent")
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if rank != RankPlatinumI {
		t.Fatalf("expected %s, got %s", RankPlatinumI, rank)
	}

	if _, err := svc.Rank(context.Background(), "buyer"); err == nil {
		t.Fatal("expected error ranking a non-agent")
	}
}

type fakeEntry struct {
	p     Participant
	deals int
}

type fakeDirectoryRepo struct {
	participants map[string]fakeEntry
}

func (f *fakeDirectoryRepo) Get(ctx context.Context, userID string) (Participant, int, error) {
	e, ok := f.participants[userID]
	if !ok {
		return Participant{}, 0, ErrNotFound
	}
	return e.p, e.deals, nil
}
