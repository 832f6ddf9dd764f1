package library

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steamServer(t *testing.T, mux *http.ServeMux) *SteamClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewSteamClient("key-1", WithBases(srv.URL, srv.URL, srv.URL))
}

func TestSteamClient_OwnedGames(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/IPlayerService/GetOwnedGames/v0001/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.URL.Query().Get("key"))
		assert.Equal(t, "7656", r.URL.Query().Get("steamid"))
		w.Write([]byte(`{"response":{"game_count":2,"games":[
			{"appid":10,"playtime_forever":600,"playtime_2weeks":30},
			{"appid":20,"playtime_forever":5}
		]}}`))
	})
	c := steamServer(t, mux)

	lib, err := c.OwnedGames(context.Background(), "7656")
	require.NoError(t, err)
	assert.Len(t, lib, 2)
	assert.Equal(t, 600, lib[10].TotalMinutes)
	assert.Equal(t, 30, lib[10].RecentMinutes)
	assert.Equal(t, 0, lib[20].RecentMinutes)
}

func TestSteamClient_OwnedGamesPrivateProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/IPlayerService/GetOwnedGames/v0001/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{}}`))
	})
	c := steamServer(t, mux)

	lib, err := c.OwnedGames(context.Background(), "7656")
	require.NoError(t, err)
	assert.Empty(t, lib)
}

func TestSteamClient_OwnedGamesError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/IPlayerService/GetOwnedGames/v0001/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("bad key"))
	})
	c := steamServer(t, mux)

	_, err := c.OwnedGames(context.Background(), "7656")
	var steamErr *SteamError
	require.ErrorAs(t, err, &steamErr)
	assert.Equal(t, http.StatusForbidden, steamErr.Status)
	assert.Equal(t, "GetOwnedGames", steamErr.Endpoint)
}

func TestSteamClient_Game(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/appdetails", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "730", r.URL.Query().Get("appids"))
		w.Write([]byte(`{"730":{"success":true,"data":{
			"name":"Counter-Strike 2","type":"game",
			"header_image":"https://cdn/730/header.jpg",
			"metacritic":{"score":83,"url":"https://metacritic/cs2"},
			"categories":[{"id":1,"description":"Multi-player"},{"id":2,"description":"Single-player"}],
			"release_date":{"coming_soon":false,"date":"21 Aug, 2012"}
		}}}`))
	})
	c := steamServer(t, mux)

	g, err := c.Game(context.Background(), 730)
	require.NoError(t, err)
	assert.Equal(t, "Counter-Strike 2", g.Name)
	assert.True(t, g.Usable())
	require.NotNil(t, g.Rating)
	assert.Equal(t, 83, *g.Rating)
	assert.Equal(t, "https://metacritic/cs2", g.RatingURL)
	assert.Equal(t, "https://cdn/730/header.jpg", g.HeaderImage)
	assert.Contains(t, g.StoreURL, "/app/730")
}

func TestSteamClient_GameFiltersAndFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/appdetails", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("appids") {
		case "1":
			w.Write([]byte(`{"1":{"success":false}}`))
		case "2":
			w.Write([]byte(`{"2":{"success":true,"data":{"name":"Soundtrack","type":"dlc","categories":[{"description":"Multi-player"}]}}}`))
		case "3":
			w.Write([]byte(`{"3":{"success":true,"data":{"name":"Solo","type":"game","categories":[{"description":"Single-player"}]}}}`))
		case "4":
			w.Write([]byte(`{"4":{"success":true,"data":{"name":"Soon","type":"game","categories":[{"description":"Multi-player"}],"release_date":{"coming_soon":true}}}}`))
		}
	})
	c := steamServer(t, mux)
	ctx := context.Background()

	g, err := c.Game(ctx, 1)
	require.NoError(t, err)
	assert.False(t, g.Valid)

	g, err = c.Game(ctx, 2)
	require.NoError(t, err)
	assert.True(t, g.Valid)
	assert.False(t, g.IsGame)

	g, err = c.Game(ctx, 3)
	require.NoError(t, err)
	assert.False(t, g.Multiplayer)
	assert.Nil(t, g.Rating)

	g, err = c.Game(ctx, 4)
	require.NoError(t, err)
	assert.False(t, g.Available)
	assert.False(t, g.Usable())
}

func TestSteamClient_Achievements(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ISteamUserStats/GetPlayerAchievements/v0001/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") == "99" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"playerstats":{"error":"Requested app has no stats","success":false}}`))
			return
		}
		w.Write([]byte(`{"playerstats":{"success":true,"achievements":[
			{"apiname":"WIN","achieved":1,"unlocktime":1700000000},
			{"apiname":"LOSE","achieved":0,"unlocktime":0},
			{"apiname":"ACE","achieved":1,"unlocktime":1700000100}
		]}}`))
	})
	c := steamServer(t, mux)
	ctx := context.Background()

	a, err := c.Achievements(ctx, "7656", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Total)
	assert.Equal(t, []string{"ACE", "WIN"}, a.Unlocked)

	a, err = c.Achievements(ctx, "7656", 99)
	require.NoError(t, err)
	assert.Zero(t, a.Total)
	assert.Empty(t, a.Unlocked)
}

func TestSteamClient_AchievementsPrivate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ISteamUserStats/GetPlayerAchievements/v0001/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"playerstats":{"error":"Profile is not public","success":false}}`))
	})
	c := steamServer(t, mux)

	_, err := c.Achievements(context.Background(), "7656", 10)
	var steamErr *SteamError
	require.ErrorAs(t, err, &steamErr)
	assert.Equal(t, http.StatusForbidden, steamErr.Status)
}

func TestSteamClient_PopularGameIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "top100in2weeks", r.URL.Query().Get("request"))
		w.Write([]byte(`{"730":{"appid":730},"570":{"appid":570},"nope":{}}`))
	})
	c := steamServer(t, mux)

	ids, err := c.PopularGameIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{570, 730}, ids)
}
