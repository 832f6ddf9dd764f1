package library

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/gamesincommon/internal/scoring"
)

// Fake is an in-memory Source for tests and scenarios. Unknown accounts own
// nothing; unknown games are invalid.
type Fake struct {
	mu        sync.Mutex
	Libraries map[string]scoring.Library
	Games     map[int]scoring.Game
	Achieved  map[string]map[int]scoring.Achievements
	Popular   []int
	Err       error
	calls     map[string]int
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Libraries: map[string]scoring.Library{},
		Games:     map[int]scoring.Game{},
		Achieved:  map[string]map[int]scoring.Achievements{},
		calls:     map[string]int{},
	}
}

// OwnedGames implements Source.
func (f *Fake) OwnedGames(_ context.Context, accountID string) (scoring.Library, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["library:"+accountID]++
	if f.Err != nil {
		return nil, f.Err
	}
	lib := scoring.Library{}
	for id, p := range f.Libraries[accountID] {
		lib[id] = p
	}
	return lib, nil
}

// Game implements Source.
func (f *Fake) Game(_ context.Context, gameID int) (scoring.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[fmt.Sprintf("game:%d", gameID)]++
	if f.Err != nil {
		return scoring.Game{}, f.Err
	}
	g, ok := f.Games[gameID]
	if !ok {
		return scoring.Game{ID: gameID}, nil
	}
	return g, nil
}

// Achievements implements Source.
func (f *Fake) Achievements(_ context.Context, accountID string, gameID int) (scoring.Achievements, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[fmt.Sprintf("achievements:%s:%d", accountID, gameID)]++
	if f.Err != nil {
		return scoring.Achievements{}, f.Err
	}
	return f.Achieved[accountID][gameID], nil
}

// PopularGameIDs implements Popular.
func (f *Fake) PopularGameIDs(context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]int(nil), f.Popular...), nil
}

// SetErr makes every later lookup fail with err; nil restores the data.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Calls returns how many times a lookup was made. Keys look like
// "library:<account>", "game:<id>" and "achievements:<account>:<id>".
func (f *Fake) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}
