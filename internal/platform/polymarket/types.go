package polymarket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string, falling back
// to 0 on anything unparseable. Liquidity and volume arrive in both shapes
// and must never abort decoding of the surrounding record.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = 0
		return nil
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &n); err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(n)
	return nil
}

// APIReward is the incentive block attached to a market record.
type APIReward struct {
	MinSize          flexFloat `json:"min_size"`
	MaxSpread        flexFloat `json:"max_spread"`
	EventStartDate   string    `json:"event_start_date"`
	EventEndDate     string    `json:"event_end_date"`
	InGameMultiplier flexFloat `json:"in_game_multiplier"`
	RewardEpoch      *int64    `json:"reward_epoch"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Outcomes and token IDs arrive as JSON-encoded arrays inside strings.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Slug          string   `json:"slug"`
	Category      string   `json:"category"`
	EndDate       string   `json:"endDate"`
	GameStartTime string   `json:"gameStartTime"`
	Active        flexBool `json:"active"`
	Closed        flexBool `json:"closed"`

	Liquidity flexFloat `json:"liquidity"` // number or numeric string
	Volume    flexFloat `json:"volume"`

	Outcomes     string `json:"outcomes"`     // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs string `json:"clobTokenIds"` // JSON-encoded: e.g. "[\"123\",\"456\"]"

	OrderMinSize      *flexFloat `json:"orderMinSize"`
	OrderPriceMinTick *flexFloat `json:"orderPriceMinTickSize"`
	SecondsDelay      *int64     `json:"secondsDelay"`

	RewardsMinSize   *flexFloat `json:"rewardsMinSize"`
	RewardsMaxSpread *flexFloat `json:"rewardsMaxSpread"`
	Rewards          *APIReward `json:"rewards"`
}

// defaultOutcomes is the fallback label set used when the outcome encoding is
// malformed. The record is still ingested rather than rejected.
var defaultOutcomes = []string{"Outcome 1", "Outcome 2"}

// parseStringArray decodes a JSON-encoded string array such as
// `["Yes","No"]`. The second return is false when the encoding is malformed
// or empty.
func parseStringArray(s string) ([]string, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil || len(out) == 0 {
		return nil, false
	}
	return out, true
}

// parseTime parses an RFC3339 timestamp, returning nil when absent or
// malformed.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// ToDomain converts an APIMarket into the canonical market shape. The mapping
// is pure and total: malformed encodings degrade to fallbacks instead of
// failing, so no untyped value flows past this boundary. Acceptance filtering
// is the sync engine's job, not this function's.
func (m *APIMarket) ToDomain() domain.Market {
	out := domain.Market{
		ExternalID:     m.ID,
		Question:       m.Question,
		Category:       m.Category,
		Slug:           m.Slug,
		EndDate:        parseTime(m.EndDate),
		EventStartDate: parseTime(m.GameStartTime),
		Active:         bool(m.Active),
		Closed:         bool(m.Closed),
		Liquidity:      float64(m.Liquidity),
		Volume:         float64(m.Volume),
	}

	out.MinOrderSize = floatPtr(m.OrderMinSize)
	out.MinTickSize = floatPtr(m.OrderPriceMinTick)
	out.MinIncentiveSize = floatPtr(m.RewardsMinSize)
	out.MaxIncentiveSpread = floatPtr(m.RewardsMaxSpread)
	out.SettlementDelaySec = m.SecondsDelay

	out.Tokens = m.tokens()

	if r := m.reward(); r != nil {
		r.ExternalID = m.ID
		out.Reward = r
	}

	return out
}

// tokens zips token IDs with outcome labels. Malformed outcome encodings fall
// back to the two-outcome default; a label shortfall or duplicate degrades to
// positional "Outcome N" names so no market ends up with two tokens sharing a
// label.
func (m *APIMarket) tokens() []domain.Token {
	ids, ok := parseStringArray(m.ClobTokenIDs)
	if !ok {
		return nil
	}

	labels, ok := parseStringArray(m.Outcomes)
	if !ok {
		labels = defaultOutcomes
	}

	tokens := make([]domain.Token, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if id == "" {
			continue
		}
		label := fmt.Sprintf("Outcome %d", i+1)
		if i < len(labels) && strings.TrimSpace(labels[i]) != "" {
			label = labels[i]
		}
		if seen[label] {
			label = fmt.Sprintf("Outcome %d", i+1)
		}
		seen[label] = true
		tokens = append(tokens, domain.Token{
			TokenID:    id,
			ExternalID: m.ID,
			Outcome:    label,
		})
	}
	return tokens
}

// reward builds the canonical reward block, preferring the structured rewards
// object and falling back to the flat rewardsMinSize/rewardsMaxSpread pair.
func (m *APIMarket) reward() *domain.Reward {
	if m.Rewards != nil {
		r := &domain.Reward{
			EventStartDate: parseTime(m.Rewards.EventStartDate),
			EventEndDate:   parseTime(m.Rewards.EventEndDate),
			RewardEpoch:    m.Rewards.RewardEpoch,
		}
		if v := float64(m.Rewards.MinSize); v != 0 {
			r.MinSize = &v
		}
		if v := float64(m.Rewards.MaxSpread); v != 0 {
			r.MaxSpread = &v
		}
		if v := float64(m.Rewards.InGameMultiplier); v != 0 {
			r.InGameMultiplier = &v
		}
		return r
	}

	if m.RewardsMinSize == nil && m.RewardsMaxSpread == nil {
		return nil
	}
	return &domain.Reward{
		MinSize:   floatPtr(m.RewardsMinSize),
		MaxSpread: floatPtr(m.RewardsMaxSpread),
	}
}

func floatPtr(f *flexFloat) *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}
