// Package discord drives the OAuth2 flow against Discord and adds registered
// attendees to the conference guild.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pyconau/precord/internal/config"
	"github.com/pyconau/precord/internal/health"
)

// ErrUpstream is returned when the Discord API answers with an unexpected status.
var ErrUpstream = errors.New("discord: upstream request failed")

const (
	defaultAPIBase  = "https://discord.com/api/v10"
	defaultWebBase  = "https://discord.com"
	authorizeFormat = "%s/oauth2/authorize?client_id=%s&state=%s&redirect_uri=%s&response_type=code&scope=identify+guilds.join"
)

// Token is the OAuth2 token Discord returns for an authorization code.
type Token struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// User is the subset of a Discord user record the flow needs.
type User struct {
	ID string `json:"id"`
}

// Client talks to the Discord API with both app (OAuth2) and bot credentials.
type Client struct {
	cfg     config.DiscordConfig
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	apiBase string
	webBase string
}

// New returns a Client using the public Discord endpoints.
func New(cfg config.DiscordConfig, cb *gobreaker.CircuitBreaker) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		cb:      cb,
		apiBase: defaultAPIBase,
		webBase: defaultWebBase,
	}
}

// AuthorizeURL is where the attendee is sent to approve the guilds.join grant.
// The state token ties the eventual callback back to the pending registration.
func (c *Client) AuthorizeURL(stateToken string) string {
	return fmt.Sprintf(authorizeFormat,
		c.webBase, c.cfg.ClientID, stateToken, url.QueryEscape(c.cfg.RedirectURI))
}

// WelcomeURL points at the guild's welcome channel in the Discord web app.
func (c *Client) WelcomeURL() string {
	return fmt.Sprintf("%s/channels/%s/%s", c.webBase, c.cfg.GuildID, c.cfg.WelcomeChannelID)
}

// ExchangeCode trades the OAuth2 authorization code for a user access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURI},
	}

	out, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.apiBase+"/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("building token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("exchanging code: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: token exchange status %d", ErrUpstream, resp.StatusCode)
		}

		var token Token
		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return nil, fmt.Errorf("decoding token: %w", err)
		}
		return &token, nil
	})
	if err != nil {
		return nil, breakerErr(err)
	}

	return out.(*Token), nil
}

// CurrentUser resolves the Discord user the access token belongs to.
func (c *Client) CurrentUser(ctx context.Context, token *Token) (*User, error) {
	out, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/users/@me", nil)
		if err != nil {
			return nil, fmt.Errorf("building user request: %w", err)
		}
		req.Header.Set("Authorization", token.TokenType+" "+token.AccessToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching current user: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: current user status %d", ErrUpstream, resp.StatusCode)
		}

		var user User
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return nil, fmt.Errorf("decoding user: %w", err)
		}
		return &user, nil
	})
	if err != nil {
		return nil, breakerErr(err)
	}

	return out.(*User), nil
}

// guildMemberBody is the PUT /guilds/{id}/members/{user} payload. Nick and
// roles are omitted when absent so Discord keeps its own defaults.
type guildMemberBody struct {
	AccessToken string  `json:"access_token"`
	Nick        *string `json:"nick,omitempty"`
	Roles       []int64 `json:"roles,omitempty"`
}

// AddGuildMember joins the user to the configured guild with the nickname and
// roles derived from their ticket. Discord answers 201 for a new member and
// 204 when the user was already in the guild; both count as success.
func (c *Client) AddGuildMember(ctx context.Context, userID, accessToken string, nickname *string, roles []int64) error {
	body, err := json.Marshal(guildMemberBody{
		AccessToken: accessToken,
		Nick:        nickname,
		Roles:       roles,
	})
	if err != nil {
		return fmt.Errorf("encoding member body: %w", err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		endpoint := fmt.Sprintf("%s/guilds/%s/members/%s", c.apiBase, c.cfg.GuildID, userID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building member request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bot "+c.cfg.BotToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("adding guild member: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: guild member status %d", ErrUpstream, resp.StatusCode)
		}
	})
	if err != nil {
		return breakerErr(err)
	}

	return nil
}

// Probe verifies the bot token is accepted by the API. Shares the breaker
// with the flow calls so a flapping Discord trips all of them.
func (c *Client) Probe(ctx context.Context) health.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/users/@me", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bot "+c.cfg.BotToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, nil
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return health.ProbeResult{Name: "discord", OK: false, LatencyMs: latency, Error: errMsg}
	}

	return health.ProbeResult{Name: "discord", OK: true, LatencyMs: latency}
}

// breakerErr normalises gobreaker's open-state error into ErrUpstream so
// callers see one failure mode for an unavailable Discord.
func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("%w: circuit open", ErrUpstream)
	}
	return err
}
