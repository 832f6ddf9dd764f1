package model

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// SortMetric selects how shared games are ranked.
type SortMetric string

const (
	MostPlaytime       SortMetric = "most-playtime"
	LeastPlaytime      SortMetric = "least-playtime"
	MostAchievements   SortMetric = "most-achievements"
	FewestAchievements SortMetric = "fewest-achievements"
	HighestRating      SortMetric = "highest-rating"
	LowestRating       SortMetric = "lowest-rating"
)

// DefaultMetric is used when the command omits a sort option.
const DefaultMetric = MostPlaytime

// Top-N bounds accepted at admission.
const (
	MinTopN     = 1
	MaxTopN     = 9
	DefaultTopN = 3
)

// Metrics returns every supported metric in display order.
func Metrics() []SortMetric {
	return []SortMetric{
		MostPlaytime,
		LeastPlaytime,
		MostAchievements,
		FewestAchievements,
		HighestRating,
		LowestRating,
	}
}

// Valid reports whether m is one of the supported metrics.
func (m SortMetric) Valid() bool {
	for _, known := range Metrics() {
		if m == known {
			return true
		}
	}
	return false
}

// Inverted reports whether the metric ranks smallest values first.
func (m SortMetric) Inverted() bool {
	return m == LeastPlaytime || m == FewestAchievements || m == LowestRating
}

// UsesAchievements reports whether ranking needs per-user achievement state.
func (m SortMetric) UsesAchievements() bool {
	return m == MostAchievements || m == FewestAchievements
}

// UsesRating reports whether ranking is driven by the game's review score.
func (m SortMetric) UsesRating() bool {
	return m == HighestRating || m == LowestRating
}

// Label is the human-readable phrase used in rendered titles.
func (m SortMetric) Label() string {
	switch m {
	case MostPlaytime:
		return "most playtime"
	case LeastPlaytime:
		return "least playtime"
	case MostAchievements:
		return "most shared achievements"
	case FewestAchievements:
		return "fewest shared achievements"
	case HighestRating:
		return "highest rating"
	case LowestRating:
		return "lowest rating"
	default:
		return string(m)
	}
}

// User identifies a chat-platform user.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Session is the durable record of one in-flight request.
//
// INVARIANTS:
//   - Token is unique per request and supplied by the chat platform
//   - Participants is non-empty and free of duplicates
//   - CreatedAt anchors every deadline; attempt start times never do
type Session struct {
	Token        string     `json:"token"`
	Participants []string   `json:"participant_ids"`
	Requester    User       `json:"requesting_user"`
	TopN         int        `json:"top_n"`
	Metric       SortMetric `json:"sort_metric"`
	CreatedAt    time.Time  `json:"created_at"`
	Guild        string     `json:"guild_context,omitempty"`
}

// Validate checks the structural invariants of a session. Admission already
// validates the command descriptor; this guards records read back from the
// store.
func (s *Session) Validate() error {
	if s.Token == "" {
		return fmt.Errorf("session: token is required")
	}
	if len(s.Participants) == 0 {
		return fmt.Errorf("session %s: at least one participant is required", s.Token)
	}
	seen := make(map[string]bool, len(s.Participants))
	for _, id := range s.Participants {
		if seen[id] {
			return fmt.Errorf("session %s: duplicate participant %s", s.Token, id)
		}
		seen[id] = true
	}
	if s.TopN < MinTopN || s.TopN > MaxTopN {
		return fmt.Errorf("session %s: top_n %d out of range [%d, %d]", s.Token, s.TopN, MinTopN, MaxTopN)
	}
	if !s.Metric.Valid() {
		return fmt.Errorf("session %s: unknown sort metric %q", s.Token, s.Metric)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("session %s: created_at is required", s.Token)
	}
	return nil
}

// HasParticipant reports whether userID is one of the participants.
func (s *Session) HasParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Involves reports whether userID is the requester or a participant. Only
// involved users may delete a delivered result.
func (s *Session) Involves(userID string) bool {
	return s.Requester.ID == userID || s.HasParticipant(userID)
}

// Encode serializes a record for the store.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// Decode parses a record previously written with Encode.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
