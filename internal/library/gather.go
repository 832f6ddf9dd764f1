package library

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/scoring"
)

// DefaultConcurrency bounds in-flight library requests per interaction.
const DefaultConcurrency = 8

// Gather collects everything scoring needs for one interaction. accounts maps
// participant id to library account id; every participant must have one.
// Achievements are only fetched for achievement metrics, and only for shared
// games that are usable.
func Gather(ctx context.Context, src Source, participants []string, accounts map[string]string, metric model.SortMetric, concurrency int) (scoring.Input, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	in := scoring.Input{
		Participants: participants,
		Libraries:    make(map[string]scoring.Library, len(participants)),
		Games:        map[int]scoring.Game{},
		Achievements: map[int]map[string]scoring.Achievements{},
	}
	for _, user := range participants {
		if accounts[user] == "" {
			return scoring.Input{}, fmt.Errorf("gather: no account for user %s", user)
		}
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, user := range participants {
		account := accounts[user]
		g.Go(func() (err error) {
			defer recoverInto(&err)
			lib, err := src.OwnedGames(gctx, account)
			if err != nil {
				return fmt.Errorf("owned games for %s: %w", user, err)
			}
			mu.Lock()
			in.Libraries[user] = lib
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return scoring.Input{}, err
	}

	shared := scoring.SharedGameIDs(participants, in.Libraries)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range shared {
		g.Go(func() (err error) {
			defer recoverInto(&err)
			game, err := src.Game(gctx, id)
			if err != nil {
				return fmt.Errorf("game %d: %w", id, err)
			}
			mu.Lock()
			in.Games[id] = game
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return scoring.Input{}, err
	}

	if !metric.UsesAchievements() {
		return in, nil
	}

	var usable []int
	for _, id := range shared {
		if in.Games[id].Usable() {
			usable = append(usable, id)
			in.Achievements[id] = make(map[string]scoring.Achievements, len(participants))
		}
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range usable {
		for _, user := range participants {
			account := accounts[user]
			g.Go(func() (err error) {
				defer recoverInto(&err)
				a, err := src.Achievements(gctx, account, id)
				if err != nil {
					return fmt.Errorf("achievements for %s in %d: %w", user, id, err)
				}
				mu.Lock()
				in.Achievements[id][user] = a
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return scoring.Input{}, err
	}
	return in, nil
}

// recoverInto turns a panic inside a fan-out goroutine into its error.
func recoverInto(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("library lookup panicked: %v", p)
	}
}

// Warm fetches metadata for every popular game through src so later
// interactions hit the cache. It returns how many games were fetched.
// Individual failures are skipped.
func Warm(ctx context.Context, popular Popular, src Source, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ids, err := popular.PopularGameIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm: %w", err)
	}

	var (
		mu     sync.Mutex
		warmed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := src.Game(gctx, id); err != nil {
				return nil
			}
			mu.Lock()
			warmed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return warmed, err
	}
	return warmed, ctx.Err()
}
