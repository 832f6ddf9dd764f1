package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gamesincommon/internal/app"
	"github.com/roach88/gamesincommon/internal/config"
	"github.com/roach88/gamesincommon/internal/dispatch"
	"github.com/roach88/gamesincommon/internal/library"
	"github.com/roach88/gamesincommon/internal/queue"
	"github.com/roach88/gamesincommon/internal/scoring"
	"github.com/roach88/gamesincommon/internal/testutil"
)

const commandBody = `{
  "id": "i-1",
  "type": 2,
  "token": "tok-1",
  "guild_id": "g-1",
  "member": {"user": {"id": "u1", "username": "ana"}},
  "data": {
    "name": "gamesincommon",
    "options": [{"name": "user1", "type": 6, "value": "u2"}]
  }
}`

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	app      *app.App
	handler  http.Handler
	recorder *dispatch.Recorder
	clock    *testutil.FakeClock
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "state.db")
	cfg.Server.Insecure = true
	if mutate != nil {
		mutate(cfg)
	}

	clk := testutil.NewFakeClock(testutil.Epoch)
	rec := dispatch.NewRecorder(clk)
	fake := library.NewFake()
	fake.Libraries["acct-u1"] = scoring.Library{10: {TotalMinutes: 600}}
	fake.Libraries["acct-u2"] = scoring.Library{10: {TotalMinutes: 60}}
	fake.Games[10] = scoring.Game{ID: 10, Name: "Deep Rock Galactic", Valid: true, IsGame: true, Multiplayer: true, Available: true}

	a, err := app.New(context.Background(), cfg,
		app.WithClock(clk),
		app.WithChat(rec),
		app.WithSource(fake),
		app.WithIDGenerator(queue.NewSequenceGenerator("t")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv, err := NewServer(a)
	require.NoError(t, err)
	return &fixture{app: a, handler: srv.Routes(), recorder: rec, clock: clk}
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		n, err := f.app.Runner.RunOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestInteractions_Ping(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodPost, "/interactions", `{"id":"p","type":1}`, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, ResponsePong, body["type"])
}

func TestInteractions_Signature(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	pub := priv.Public().(ed25519.PublicKey)
	f := newFixture(t, func(c *config.Config) {
		c.Discord.PublicKey = hex.EncodeToString(pub)
	})

	body := `{"id":"p","type":1}`
	code, _ := f.do(t, http.MethodPost, "/interactions", body, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	ts := "1700000000"
	bad := hex.EncodeToString(ed25519.Sign(priv, []byte(ts+"other")))
	code, _ = f.do(t, http.MethodPost, "/interactions", body, http.Header{
		HeaderTimestamp: {ts},
		HeaderSignature: {bad},
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	good := hex.EncodeToString(ed25519.Sign(priv, []byte(ts+body)))
	code, resp := f.do(t, http.MethodPost, "/interactions", body, http.Header{
		HeaderTimestamp: {ts},
		HeaderSignature: {good},
	})
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, ResponsePong, resp["type"])
}

func TestVerify(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{1}, ed25519.SeedSize))
	pub := priv.Public().(ed25519.PublicKey)
	sig := hex.EncodeToString(ed25519.Sign(priv, []byte("42{}")))

	assert.True(t, Verify(pub, "42", sig, []byte("{}")))
	assert.False(t, Verify(pub, "43", sig, []byte("{}")))
	assert.False(t, Verify(pub, "", sig, []byte("{}")))
	assert.False(t, Verify(pub, "42", "zz", []byte("{}")))
}

func TestNewServer_RejectsBadKey(t *testing.T) {
	f := newFixture(t, nil)
	f.app.Config.Discord.PublicKey = "abcd"
	_, err := NewServer(f.app)
	assert.Error(t, err)
}

func TestNewServer_RequiresPublicKey(t *testing.T) {
	f := newFixture(t, nil)
	f.app.Config.Server.Insecure = false
	_, err := NewServer(f.app)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public key")

	f.app.Config.Discord.PublicKey = hex.EncodeToString(make([]byte, ed25519.PublicKeySize))
	_, err = NewServer(f.app)
	assert.NoError(t, err)
}

func TestSecureServer_RejectsUnsignedAndDisablesOpenSignals(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{3}, ed25519.SeedSize))
	f := newFixture(t, func(c *config.Config) {
		c.Server.Insecure = false
		c.Discord.PublicKey = hex.EncodeToString(priv.Public().(ed25519.PublicKey))
	})

	code, _ := f.do(t, http.MethodPost, "/interactions", `{"id":"p","type":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	for _, path := range []string{"/signals/authorize", "/signals/reaction"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"user_id":"u1","account_id":"evil"}`))
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	_, err := f.app.Store.Get(context.Background(), "user:u1:account")
	assert.Error(t, err, "no account was attached")
}

func TestInteractions_Command(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/interactions", commandBody, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, ResponseMessage, body["type"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "Checking for authorization from <@u1> and <@u2>...", data["content"])

	code, _ = f.do(t, http.MethodPost, "/interactions", commandBody, nil)
	assert.Equal(t, http.StatusConflict, code)

	f.drain(t)
	assert.Equal(t, "Authorization needed", f.recorder.Last("tok-1").Embeds[0].Title)
}

func TestInteractions_InvalidCommandIsEphemeral(t *testing.T) {
	f := newFixture(t, nil)
	invalid := strings.Replace(commandBody,
		`[{"name": "user1", "type": 6, "value": "u2"}]`,
		`[{"name": "top", "type": 4, "value": 12}]`, 1)

	code, body := f.do(t, http.MethodPost, "/interactions", invalid, nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, FlagEphemeral, data["flags"])
	assert.Contains(t, data["content"], "invalid command")
}

func TestInteractions_Rejects(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/interactions", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/interactions", `{"id":"x","type":3}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	other := strings.Replace(commandBody, `"name": "gamesincommon"`, `"name": "other"`, 1)
	code, body := f.do(t, http.MethodPost, "/interactions", other, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "unknown command")
}

func TestSignals_AuthorizeThroughDelete(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodPost, "/interactions", commandBody, nil)
	require.Equal(t, http.StatusOK, code)
	f.drain(t)

	code, body := f.do(t, http.MethodPost, "/signals/authorize", `{"user_id":"u1","account_id":"acct-u1","expires_in":3600}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"tok-1"}, body["rerun"])

	code, _ = f.do(t, http.MethodPost, "/signals/authorize", `{"user_id":"u2","account_id":"acct-u2"}`, nil)
	require.Equal(t, http.StatusOK, code)
	f.drain(t)
	assert.Equal(t, "Top 1 game in common by most playtime", f.recorder.Last("tok-1").Embeds[0].Title)

	code, body = f.do(t, http.MethodGet, "/sessions/tok-1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["claimed"])
	assert.NotNil(t, body["delivered"])

	reaction := `{"message_id":"msg-tok-1","user_id":"%s","emoji":"❌"}`
	code, _ = f.do(t, http.MethodPost, "/signals/reaction", strings.Replace(reaction, "%s", "u9", 1), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = f.do(t, http.MethodPost, "/signals/reaction", strings.Replace(reaction, "%s", "u2", 1), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["deleted"])
	assert.Equal(t, "Results deleted", f.recorder.Last("tok-1").Embeds[0].Title)

	code, body = f.do(t, http.MethodPost, "/signals/reaction", strings.Replace(reaction, "%s", "u1", 1), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["deleted"])
}

func TestSignals_PresenceAndRevoke(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/signals/presence", `{"user_ids":["u1"]}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["rerun"])

	code, _ = f.do(t, http.MethodPost, "/signals/presence", `{"user_ids":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/signals/revoke", `{"user_id":"u1"}`, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/signals/revoke", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSignals_RequireSecret(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.SignalSecret = "s3cret"
	})

	code, _ := f.do(t, http.MethodPost, "/signals/revoke", `{"user_id":"u1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodPost, "/signals/revoke", `{"user_id":"u1"}`, http.Header{
		"Authorization": {"Bearer wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodPost, "/signals/revoke", `{"user_id":"u1"}`, http.Header{
		"Authorization": {"Bearer s3cret"},
	})
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, "/sessions/nope", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestInspect_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodGet, "/sessions/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
