package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyconau/precord/internal/breaker"
	"github.com/pyconau/precord/internal/config"
)

func testConfig() config.DiscordConfig {
	return config.DiscordConfig{
		ClientID:         "cid",
		ClientSecret:     "csecret",
		BotToken:         "btoken",
		GuildID:          "9000",
		WelcomeChannelID: "9001",
		RedirectURI:      "https://precord.example/redirect",
	}
}

// newTestClient points a Client at an httptest server for both the API and
// web bases.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(testConfig(), breaker.New("discord-test-"+t.Name()))
	c.apiBase = srv.URL
	c.webBase = srv.URL
	return c, srv
}

func TestAuthorizeURL(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), breaker.New("authorize-url"))

	got := c.AuthorizeURL("state123")
	assert.Equal(t,
		"https://discord.com/oauth2/authorize?client_id=cid&state=state123"+
			"&redirect_uri=https%3A%2F%2Fprecord.example%2Fredirect"+
			"&response_type=code&scope=identify+guilds.join",
		got)
}

func TestWelcomeURL(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), breaker.New("welcome-url"))
	assert.Equal(t, "https://discord.com/channels/9000/9001", c.WelcomeURL())
}

func TestExchangeCode(t *testing.T) {
	t.Parallel()

	t.Run("posts form with basic auth", func(t *testing.T) {
		t.Parallel()

		var gotUser, gotPass, gotGrant, gotCode string
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser, gotPass, _ = r.BasicAuth()
			require.NoError(t, r.ParseForm())
			gotGrant = r.PostForm.Get("grant_type")
			gotCode = r.PostForm.Get("code")
			json.NewEncoder(w).Encode(Token{TokenType: "Bearer", AccessToken: "atok"})
		}))

		token, err := c.ExchangeCode(context.Background(), "authcode")
		require.NoError(t, err)

		assert.Equal(t, "cid", gotUser)
		assert.Equal(t, "csecret", gotPass)
		assert.Equal(t, "authorization_code", gotGrant)
		assert.Equal(t, "authcode", gotCode)
		assert.Equal(t, "Bearer", token.TokenType)
		assert.Equal(t, "atok", token.AccessToken)
	})

	t.Run("non-200 is ErrUpstream", func(t *testing.T) {
		t.Parallel()

		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))

		_, err := c.ExchangeCode(context.Background(), "badcode")
		assert.ErrorIs(t, err, ErrUpstream)
	})
}

func TestCurrentUser(t *testing.T) {
	t.Parallel()

	var gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"id": "123456789"}`))
	}))

	user, err := c.CurrentUser(context.Background(), &Token{TokenType: "Bearer", AccessToken: "atok"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer atok", gotAuth)
	assert.Equal(t, "123456789", user.ID)
}

func TestAddGuildMember(t *testing.T) {
	t.Parallel()

	t.Run("includes nick and roles when present", func(t *testing.T) {
		t.Parallel()

		var gotPath, gotAuth string
		var gotBody map[string]any
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &gotBody))
			w.WriteHeader(http.StatusCreated)
		}))

		nick := "Jane Doe"
		err := c.AddGuildMember(context.Background(), "123", "atok", &nick, []int64{42, 43})
		require.NoError(t, err)

		assert.Equal(t, "/guilds/9000/members/123", gotPath)
		assert.Equal(t, "Bot btoken", gotAuth)
		assert.Equal(t, "atok", gotBody["access_token"])
		assert.Equal(t, "Jane Doe", gotBody["nick"])
		assert.Len(t, gotBody["roles"], 2)
	})

	t.Run("omits nick and roles when absent", func(t *testing.T) {
		t.Parallel()

		var gotBody map[string]any
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &gotBody))
			w.WriteHeader(http.StatusNoContent)
		}))

		require.NoError(t, c.AddGuildMember(context.Background(), "123", "atok", nil, nil))
		assert.NotContains(t, gotBody, "nick")
		assert.NotContains(t, gotBody, "roles")
	})

	t.Run("204 already-a-member is success", func(t *testing.T) {
		t.Parallel()

		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		assert.NoError(t, c.AddGuildMember(context.Background(), "123", "atok", nil, nil))
	})

	t.Run("403 is ErrUpstream", func(t *testing.T) {
		t.Parallel()

		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

		err := c.AddGuildMember(context.Background(), "123", "atok", nil, nil)
		assert.ErrorIs(t, err, ErrUpstream)
	})
}

func TestExchangeCode_BreakerOpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for range 3 {
		_, _ = c.ExchangeCode(context.Background(), "code")
	}
	_, err := c.ExchangeCode(context.Background(), "code")
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestProbe(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		var gotAuth string
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{"id": "botid"}`))
		}))

		result := c.Probe(context.Background())
		assert.True(t, result.OK)
		assert.Equal(t, "discord", result.Name)
		assert.Equal(t, "Bot btoken", gotAuth)
	})

	t.Run("bad token", func(t *testing.T) {
		t.Parallel()

		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		result := c.Probe(context.Background())
		assert.False(t, result.OK)
		assert.Contains(t, result.Error, "unexpected status 401")
	})
}
