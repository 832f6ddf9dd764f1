// Package scoring ranks the games a group has in common.
//
// Everything here is a pure function of its Input: no I/O, no clock, and no
// map iteration order leaks into results. Every metric is turned into a
// score that sorts descending; metrics that prefer small values negate
// their raw score. Ties break by descending aggregate playtime and then by
// ascending game id, so the order is total.
package scoring

import (
	"sort"

	"github.com/roach88/gamesincommon/internal/model"
)

// DefaultRecencyWeight multiplies recent playtime in the playtime score.
const DefaultRecencyWeight = 3

// Playtime is one user's time in one game, in minutes.
type Playtime struct {
	TotalMinutes  int `json:"total"`
	RecentMinutes int `json:"recent"`
}

// Library maps game id to the owner's playtime.
type Library map[int]Playtime

// Achievements is one user's achievement state for one game.
type Achievements struct {
	Total    int      `json:"total"`
	Unlocked []string `json:"unlocked"`
}

// Game is store metadata for one game.
type Game struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Valid       bool   `json:"valid"`
	IsGame      bool   `json:"game"`
	Multiplayer bool   `json:"multiplayer"`
	Available   bool   `json:"available"`
	Rating      *int   `json:"rating,omitempty"`
	RatingURL   string `json:"rating_url,omitempty"`
	HeaderImage string `json:"header_image,omitempty"`
	StoreURL    string `json:"store_url,omitempty"`
}

// Usable reports whether the game can be recommended at all.
func (g Game) Usable() bool {
	return g.Valid && g.IsGame && g.Multiplayer && g.Available
}

// Input is everything Rank needs. Libraries is keyed by participant id.
// Games is keyed by game id; shared games without metadata are skipped.
// Achievements is keyed by game id, then participant id, and is only read
// for achievement metrics.
type Input struct {
	Participants []string
	Libraries    map[string]Library
	Games        map[int]Game
	Achievements map[int]map[string]Achievements
}

// Ranked is one recommended game.
type Ranked struct {
	Game     Game
	Score    float64
	Playtime int
	PerUser  map[string]Playtime
}

// Ranker ranks candidates with a fixed recency weight.
type Ranker struct {
	RecencyWeight int
}

// Rank ranks with DefaultRecencyWeight.
func Rank(in Input, metric model.SortMetric, topN int) []Ranked {
	return Ranker{RecencyWeight: DefaultRecencyWeight}.Rank(in, metric, topN)
}

// Rank returns the best topN candidates for metric. An empty result means
// the group has no usable game in common.
func (r Ranker) Rank(in Input, metric model.SortMetric, topN int) []Ranked {
	ids := r.Candidates(in, metric)
	ranked := make([]Ranked, 0, len(ids))
	for _, id := range ids {
		ranked = append(ranked, Ranked{
			Game:     in.Games[id],
			Score:    r.Score(in, metric, id),
			Playtime: r.aggregatePlaytime(in, id),
			PerUser:  perUser(in, id),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Playtime != b.Playtime {
			return a.Playtime > b.Playtime
		}
		return a.Game.ID < b.Game.ID
	})

	if topN >= 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// Candidates returns the ids eligible for metric, ascending.
func (r Ranker) Candidates(in Input, metric model.SortMetric) []int {
	var out []int
	for _, id := range SharedGameIDs(in.Participants, in.Libraries) {
		game, ok := in.Games[id]
		if !ok || !game.Usable() {
			continue
		}
		switch metric {
		case model.FewestAchievements:
			if totalAchievements(in, id) == 0 {
				continue
			}
		case model.LowestRating:
			if game.Rating == nil {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// Score is the descending sort key of game id under metric.
func (r Ranker) Score(in Input, metric model.SortMetric, id int) float64 {
	var raw float64
	switch {
	case metric.UsesAchievements():
		raw = sharedAchievementRatio(in, id)
	case metric.UsesRating():
		if rating := in.Games[id].Rating; rating != nil {
			raw = float64(*rating)
		}
	default:
		raw = float64(r.aggregatePlaytime(in, id))
	}
	if metric.Inverted() {
		return -raw
	}
	return raw
}

func (r Ranker) aggregatePlaytime(in Input, id int) int {
	sum := 0
	for _, user := range in.Participants {
		p := in.Libraries[user][id]
		sum += p.TotalMinutes + p.RecentMinutes*r.RecencyWeight
	}
	return sum
}

// SharedGameIDs returns the ids owned by every participant, ascending.
func SharedGameIDs(participants []string, libraries map[string]Library) []int {
	if len(participants) == 0 {
		return nil
	}
	var shared []int
	for id := range libraries[participants[0]] {
		inAll := true
		for _, user := range participants[1:] {
			if _, ok := libraries[user][id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			shared = append(shared, id)
		}
	}
	sort.Ints(shared)
	return shared
}

func perUser(in Input, id int) map[string]Playtime {
	out := make(map[string]Playtime, len(in.Participants))
	for _, user := range in.Participants {
		out[user] = in.Libraries[user][id]
	}
	return out
}

func totalAchievements(in Input, id int) int {
	total := 0
	for _, a := range in.Achievements[id] {
		if a.Total > total {
			total = a.Total
		}
	}
	return total
}

// sharedAchievementRatio is |unlocked by everyone| / total, or 0 when the
// game tracks no achievements.
func sharedAchievementRatio(in Input, id int) float64 {
	total := totalAchievements(in, id)
	if total == 0 {
		return 0
	}
	var shared map[string]bool
	for i, user := range in.Participants {
		unlocked := map[string]bool{}
		for _, name := range in.Achievements[id][user].Unlocked {
			if i == 0 || shared[name] {
				unlocked[name] = true
			}
		}
		shared = unlocked
	}
	return float64(len(shared)) / float64(total)
}
