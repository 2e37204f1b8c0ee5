package pretix

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyconau/precord/internal/breaker"
	"github.com/pyconau/precord/internal/config"
)

// newKeyPair generates an RSA key and the PEM encoding of its public half.
func newKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, string(pubPEM)
}

func signTicket(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newTestClient(t *testing.T, cfg config.PretixConfig) *Client {
	t.Helper()

	c, err := New(cfg, breaker.New("pretix-test-"+t.Name()))
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadPublicKey(t *testing.T) {
	t.Parallel()

	_, err := New(config.PretixConfig{JWTPublicKey: "not a key"}, breaker.New("bad-key"))
	assert.Error(t, err)
}

func TestVerifyTicket(t *testing.T) {
	t.Parallel()

	key, pubPEM := newKeyPair(t)
	c := newTestClient(t, config.PretixConfig{JWTPublicKey: pubPEM})

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()

		token := signTicket(t, key, jwt.MapClaims{"order": "ABC12", "position": 3})

		ticket, err := c.VerifyTicket(token)
		require.NoError(t, err)
		assert.Equal(t, "ABC12", ticket.Order)
		assert.Equal(t, 3, ticket.Position)
	})

	t.Run("string position accepted", func(t *testing.T) {
		t.Parallel()

		token := signTicket(t, key, jwt.MapClaims{"order": "ABC12", "position": "7"})

		ticket, err := c.VerifyTicket(token)
		require.NoError(t, err)
		assert.Equal(t, 7, ticket.Position)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		t.Parallel()

		otherKey, _ := newKeyPair(t)
		token := signTicket(t, otherKey, jwt.MapClaims{"order": "ABC12", "position": 1})

		_, err := c.VerifyTicket(token)
		assert.Error(t, err)
	})

	t.Run("HMAC token rejected", func(t *testing.T) {
		t.Parallel()

		hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
			jwt.MapClaims{"order": "ABC12", "position": 1}).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = c.VerifyTicket(hmacToken)
		assert.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		t.Parallel()

		_, err := c.VerifyTicket("not.a.jwt")
		assert.Error(t, err)
	})
}

func TestFetchOrder(t *testing.T) {
	t.Parallel()

	_, pubPEM := newKeyPair(t)

	t.Run("decodes order and sends auth header", func(t *testing.T) {
		t.Parallel()

		var gotAuth, gotPath, gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`{
				"status": "p",
				"positions": [
					{"positionid": 1, "item": 569203, "canceled": false,
					 "answers": [{"question_identifier": "primary_name", "answer": "Jane"}]}
				]
			}`))
		}))
		defer srv.Close()

		c := newTestClient(t, config.PretixConfig{
			JWTPublicKey: pubPEM,
			APIToken:     "sekrit",
			Organizer:    "pyconau",
			Event:        "2024",
			BaseURL:      srv.URL,
		})

		order, err := c.FetchOrder(context.Background(), "ABC12")
		require.NoError(t, err)

		assert.Equal(t, "Token sekrit", gotAuth)
		assert.Equal(t, "/api/v1/organizers/pyconau/events/2024/orders/ABC12/", gotPath)
		assert.Equal(t, "include_canceled_positions=true", gotQuery)

		assert.Equal(t, Paid, order.Status)
		require.Len(t, order.Positions, 1)
		assert.Equal(t, 569203, order.Positions[0].Item)
		assert.Equal(t, map[string]string{"primary_name": "Jane"}, order.Positions[0].AnswerMap())
	})

	t.Run("non-200 is ErrUpstream", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := newTestClient(t, config.PretixConfig{JWTPublicKey: pubPEM, BaseURL: srv.URL})

		_, err := c.FetchOrder(context.Background(), "NOPE1")
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("breaker opens after three failures", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient(t, config.PretixConfig{JWTPublicKey: pubPEM, BaseURL: srv.URL})

		for range 3 {
			_, _ = c.FetchOrder(context.Background(), "ABC12")
		}
		_, err := c.FetchOrder(context.Background(), "ABC12")
		require.ErrorIs(t, err, ErrUpstream)
		assert.Contains(t, err.Error(), "circuit open")
	})
}

func TestOrderHelpers(t *testing.T) {
	t.Parallel()

	order := &Order{
		Status: Paid,
		Positions: []Position{
			{PositionID: 1, Item: 569202, Canceled: false},
			{PositionID: 2, Item: 569209, Canceled: true},
			{PositionID: 3, Item: 569203, Canceled: false},
		},
	}

	pos, ok := order.FindPosition(3)
	require.True(t, ok)
	assert.Equal(t, 569203, pos.Item)

	_, ok = order.FindPosition(99)
	assert.False(t, ok)

	items := order.Items()
	assert.Contains(t, items, 569202)
	assert.Contains(t, items, 569203)
	assert.NotContains(t, items, 569209, "canceled positions contribute no items")
}

func TestProbe(t *testing.T) {
	t.Parallel()

	_, pubPEM := newKeyPair(t)

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := newTestClient(t, config.PretixConfig{JWTPublicKey: pubPEM, BaseURL: srv.URL})

		result := c.Probe(context.Background())
		assert.True(t, result.OK)
		assert.Equal(t, "pretix", result.Name)
	})

	t.Run("unexpected status", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		c := newTestClient(t, config.PretixConfig{JWTPublicKey: pubPEM, BaseURL: srv.URL})

		result := c.Probe(context.Background())
		assert.False(t, result.OK)
		assert.Contains(t, result.Error, "unexpected status 403")
	})
}
