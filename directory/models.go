package directory

// Participant is the read-through view of a user exposed to the escrow
// coordinator: identity, display data, and role. It is never persisted
// separately from the users table.
type Participant struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar,omitempty"`
	Role     string  `json:"role"`
	Online   bool    `json:"online"`
}

// Rank is the trust tier shown next to an escrow agent. It is derived from
// the agent's completed-deal count and carries no authorization weight.
type Rank string

const (
	RankBronze      Rank = "bronze"
	RankGold        Rank = "gold"
	RankPlatinumI   Rank = "platinum_1"
	RankPlatinumII  Rank = "platinum_2"
	RankPlatinumIII Rank = "platinum_3"
	RankExclusive   Rank = "exclusive"
)

// rankThresholds is evaluated highest-first by RankFor.
var rankThresholds = []struct {
	min  int
	rank Rank
}{
	{10000, RankExclusive},
	{5000, RankPlatinumIII},
	{2500, RankPlatinumII},
	{1000, RankPlatinumI},
	{500, RankGold},
}

// RankFor maps a completed-deal count to a rank tier.
func RankFor(deals int) Rank {
	for _, t := range rankThresholds {
		if deals >= t.min {
			return t.rank
		}
	}
	return RankBronze
}
