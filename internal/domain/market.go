package domain

import "time"

// Market is the canonical representation of one tradable prediction market,
// keyed by the stable external identifier assigned by the upstream venue.
type Market struct {
	ExternalID string
	Question   string
	Category   string
	Slug       string

	// EndDate is nil for open-ended markets; EventStartDate is nil when the
	// venue has not published one.
	EndDate        *time.Time
	EventStartDate *time.Time

	Active bool
	Closed bool

	Liquidity float64
	Volume    float64

	// Venue-defined trading parameters; nil when the feed omits them.
	MinOrderSize       *float64
	MinTickSize        *float64
	MinIncentiveSize   *float64
	MaxIncentiveSpread *float64
	SettlementDelaySec *int64

	Tokens []Token
	Reward *Reward

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSyncedAt *time.Time
}

// Token is one tradable outcome of a market. Binary markets carry two
// ("Yes"/"No"); the model tolerates N outcomes.
type Token struct {
	TokenID    string
	ExternalID string
	Outcome    string
}

// Reward is the optional market-making incentive block, at most one per
// market.
type Reward struct {
	ExternalID       string
	MinSize          *float64
	MaxSpread        *float64
	EventStartDate   *time.Time
	EventEndDate     *time.Time
	InGameMultiplier *float64
	RewardEpoch      *int64
}

// TokenID returns the token ID for the given outcome label, or "" when the
// market has no such outcome.
func (m Market) TokenID(outcome string) string {
	for _, t := range m.Tokens {
		if t.Outcome == outcome {
			return t.TokenID
		}
	}
	return ""
}
