package library

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/roach88/gamesincommon/internal/scoring"
)

// Default service roots.
const (
	DefaultAPIBase   = "https://api.steampowered.com"
	DefaultStoreBase = "https://store.steampowered.com"
	DefaultSpyBase   = "https://steamspy.com"
)

const noStatsError = "Requested app has no stats"

// SteamError is a non-success response from the library service.
type SteamError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *SteamError) Error() string {
	return fmt.Sprintf("steam %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// SteamClient implements Source and Popular over HTTP.
type SteamClient struct {
	http      *resty.Client
	apiKey    string
	apiBase   string
	storeBase string
	spyBase   string
}

// SteamOption configures a SteamClient.
type SteamOption func(*SteamClient)

// WithBases overrides the service roots. Empty values keep the defaults.
func WithBases(api, store, spy string) SteamOption {
	return func(c *SteamClient) {
		if api != "" {
			c.apiBase = api
		}
		if store != "" {
			c.storeBase = store
		}
		if spy != "" {
			c.spyBase = spy
		}
	}
}

// NewSteamClient creates a client authenticated with apiKey.
func NewSteamClient(apiKey string, opts ...SteamOption) *SteamClient {
	c := &SteamClient{
		http:      resty.New().SetTimeout(15 * time.Second),
		apiKey:    apiKey,
		apiBase:   DefaultAPIBase,
		storeBase: DefaultStoreBase,
		spyBase:   DefaultSpyBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ownedGamesResponse struct {
	Response struct {
		GameCount int `json:"game_count"`
		Games     []struct {
			AppID           int `json:"appid"`
			PlaytimeForever int `json:"playtime_forever"`
			Playtime2Weeks  int `json:"playtime_2weeks"`
		} `json:"games"`
	} `json:"response"`
}

// OwnedGames implements Source. A private profile yields an empty library.
func (c *SteamClient) OwnedGames(ctx context.Context, accountID string) (scoring.Library, error) {
	var out ownedGamesResponse
	err := c.get(ctx, "GetOwnedGames", c.apiBase+"/IPlayerService/GetOwnedGames/v0001/", map[string]string{
		"key":                       c.apiKey,
		"steamid":                   accountID,
		"format":                    "json",
		"include_played_free_games": "1",
	}, &out)
	if err != nil {
		return nil, err
	}

	lib := make(scoring.Library, len(out.Response.Games))
	for _, g := range out.Response.Games {
		lib[g.AppID] = scoring.Playtime{TotalMinutes: g.PlaytimeForever, RecentMinutes: g.Playtime2Weeks}
	}
	return lib, nil
}

type appDetails struct {
	Success bool `json:"success"`
	Data    struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		HeaderImage string `json:"header_image"`
		Metacritic  *struct {
			Score int    `json:"score"`
			URL   string `json:"url"`
		} `json:"metacritic"`
		Categories []struct {
			Description string `json:"description"`
		} `json:"categories"`
		ReleaseDate struct {
			ComingSoon bool `json:"coming_soon"`
		} `json:"release_date"`
	} `json:"data"`
}

// Game implements Source. Unknown or delisted games come back with
// Valid=false rather than an error.
func (c *SteamClient) Game(ctx context.Context, gameID int) (scoring.Game, error) {
	id := strconv.Itoa(gameID)
	var out map[string]appDetails
	if err := c.get(ctx, "appdetails", c.storeBase+"/api/appdetails", map[string]string{"appids": id}, &out); err != nil {
		return scoring.Game{}, err
	}

	details, ok := out[id]
	if !ok || !details.Success {
		return scoring.Game{ID: gameID, Valid: false}, nil
	}

	d := details.Data
	game := scoring.Game{
		ID:          gameID,
		Name:        d.Name,
		Valid:       true,
		IsGame:      d.Type == "game",
		Available:   !d.ReleaseDate.ComingSoon,
		HeaderImage: d.HeaderImage,
		StoreURL:    fmt.Sprintf("%s/app/%d", c.storeBase, gameID),
	}
	for _, cat := range d.Categories {
		if cat.Description == "Multi-player" {
			game.Multiplayer = true
			break
		}
	}
	if d.Metacritic != nil {
		score := d.Metacritic.Score
		game.Rating = &score
		game.RatingURL = d.Metacritic.URL
	}
	return game, nil
}

type achievementsResponse struct {
	PlayerStats struct {
		Error        string `json:"error"`
		Achievements []struct {
			APIName    string `json:"apiname"`
			Achieved   int    `json:"achieved"`
			UnlockTime int64  `json:"unlocktime"`
		} `json:"achievements"`
	} `json:"playerstats"`
}

// Achievements implements Source. Games without stats have zero total.
func (c *SteamClient) Achievements(ctx context.Context, accountID string, gameID int) (scoring.Achievements, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":     c.apiKey,
			"steamid": accountID,
			"appid":   strconv.Itoa(gameID),
			"format":  "json",
		}).
		Get(c.apiBase + "/ISteamUserStats/GetPlayerAchievements/v0001/")
	if err != nil {
		return scoring.Achievements{}, fmt.Errorf("steam GetPlayerAchievements: %w", err)
	}

	var out achievementsResponse
	decodeErr := json.Unmarshal(res.Body(), &out)
	if res.IsError() {
		if decodeErr == nil && out.PlayerStats.Error == noStatsError {
			return scoring.Achievements{}, nil
		}
		return scoring.Achievements{}, &SteamError{Endpoint: "GetPlayerAchievements", Status: res.StatusCode(), Body: string(res.Body())}
	}
	if decodeErr != nil {
		return scoring.Achievements{}, fmt.Errorf("steam GetPlayerAchievements: decode: %w", decodeErr)
	}

	a := scoring.Achievements{Total: len(out.PlayerStats.Achievements)}
	for _, ach := range out.PlayerStats.Achievements {
		if ach.UnlockTime > 0 || ach.Achieved == 1 {
			a.Unlocked = append(a.Unlocked, ach.APIName)
		}
	}
	sort.Strings(a.Unlocked)
	return a, nil
}

// PopularGameIDs implements Popular using the two-week top 100.
func (c *SteamClient) PopularGameIDs(ctx context.Context) ([]int, error) {
	var out map[string]json.RawMessage
	if err := c.get(ctx, "top100in2weeks", c.spyBase+"/api.php", map[string]string{"request": "top100in2weeks"}, &out); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(out))
	for key := range out {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (c *SteamClient) get(ctx context.Context, endpoint, url string, query map[string]string, into any) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(url)
	if err != nil {
		return fmt.Errorf("steam %s: %w", endpoint, err)
	}
	if res.StatusCode() != http.StatusOK {
		return &SteamError{Endpoint: endpoint, Status: res.StatusCode(), Body: string(res.Body())}
	}
	if err := json.Unmarshal(res.Body(), into); err != nil {
		return fmt.Errorf("steam %s: decode: %w", endpoint, err)
	}
	return nil
}
