package library

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/scoring"
)

func gatherFake() *Fake {
	f := NewFake()
	f.Libraries["acct-a"] = scoring.Library{10: {TotalMinutes: 100}, 20: {TotalMinutes: 5}, 30: {}}
	f.Libraries["acct-b"] = scoring.Library{10: {TotalMinutes: 50}, 20: {}, 40: {}}
	f.Games[10] = scoring.Game{ID: 10, Valid: true, IsGame: true, Multiplayer: true, Available: true}
	f.Games[20] = scoring.Game{ID: 20, Valid: true, IsGame: true, Multiplayer: false, Available: true}
	f.Achieved["acct-a"] = map[int]scoring.Achievements{10: {Total: 2, Unlocked: []string{"a"}}}
	f.Achieved["acct-b"] = map[int]scoring.Achievements{10: {Total: 2, Unlocked: []string{"a", "b"}}}
	return f
}

var gatherAccounts = map[string]string{"u1": "acct-a", "u2": "acct-b"}

func TestGather_Playtime(t *testing.T) {
	f := gatherFake()

	in, err := Gather(context.Background(), f, []string{"u1", "u2"}, gatherAccounts, model.MostPlaytime, 2)
	require.NoError(t, err)

	assert.Len(t, in.Libraries, 2)
	assert.Equal(t, []int{10, 20}, sortedKeys(in.Games))
	assert.Empty(t, in.Achievements)
	assert.Zero(t, f.Calls("game:30"))
	assert.Zero(t, f.Calls("achievements:acct-a:10"))

	ranked := scoring.Rank(in, model.MostPlaytime, 3)
	require.Len(t, ranked, 1)
	assert.Equal(t, 10, ranked[0].Game.ID)
}

func TestGather_AchievementsOnlyForUsableGames(t *testing.T) {
	f := gatherFake()

	in, err := Gather(context.Background(), f, []string{"u1", "u2"}, gatherAccounts, model.MostAchievements, 0)
	require.NoError(t, err)

	require.Contains(t, in.Achievements, 10)
	assert.NotContains(t, in.Achievements, 20)
	assert.Equal(t, []string{"a", "b"}, in.Achievements[10]["u2"].Unlocked)
	assert.Zero(t, f.Calls("achievements:acct-a:20"))
}

func TestGather_MissingAccount(t *testing.T) {
	f := gatherFake()

	_, err := Gather(context.Background(), f, []string{"u1", "u3"}, gatherAccounts, model.MostPlaytime, 2)
	require.Error(t, err)
	assert.Zero(t, f.Calls("library:acct-a"))
}

func TestGather_SourceError(t *testing.T) {
	f := gatherFake()
	f.Err = errors.New("boom")

	_, err := Gather(context.Background(), f, []string{"u1", "u2"}, gatherAccounts, model.MostPlaytime, 2)
	require.ErrorContains(t, err, "boom")
}

func TestWarm(t *testing.T) {
	f := gatherFake()
	f.Popular = []int{10, 20, 99}

	n, err := Warm(context.Background(), f, f, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, f.Calls("game:99"))
}

func sortedKeys(m map[int]scoring.Game) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
