// Package enroll implements the two-leg registration flow: a signed ticket
// URL in, a Discord guild membership out.
package enroll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pyconau/precord/internal/discord"
	"github.com/pyconau/precord/internal/health"
	"github.com/pyconau/precord/internal/pretix"
	"github.com/pyconau/precord/internal/store"
)

// Registrations is the store surface the flow uses; satisfied by *store.Store.
type Registrations interface {
	InsertPending(ctx context.Context, p store.Pending) error
	SelectPendingByState(ctx context.Context, stateToken string) (*store.Pending, error)
	DeletePending(ctx context.Context, orderCode string, position int) error
	InsertActive(ctx context.Context, a store.Active) error
	SelectActive(ctx context.Context, orderCode string, position int) (*store.Active, error)
	Probe(ctx context.Context) health.ProbeResult
}

// TicketOffice is the Pretix surface the flow uses; satisfied by *pretix.Client.
type TicketOffice interface {
	VerifyTicket(token string) (*pretix.Ticket, error)
	FetchOrder(ctx context.Context, code string) (*pretix.Order, error)
	Probe(ctx context.Context) health.ProbeResult
}

// Guild is the Discord surface the flow uses; satisfied by *discord.Client.
type Guild interface {
	AuthorizeURL(stateToken string) string
	WelcomeURL() string
	ExchangeCode(ctx context.Context, code string) (*discord.Token, error)
	CurrentUser(ctx context.Context, token *discord.Token) (*discord.User, error)
	AddGuildMember(ctx context.Context, userID, accessToken string, nickname *string, roles []int64) error
	Probe(ctx context.Context) health.ProbeResult
}

// Service orchestrates the registration flow.
type Service struct {
	store   Registrations
	pretix  TicketOffice
	discord Guild

	stateTokenLifetime time.Duration
	now                func() time.Time
}

// New constructs a Service. stateTokenLifetime bounds how long an attendee
// may dawdle inside the Discord consent screen.
func New(s Registrations, p TicketOffice, d Guild, stateTokenLifetime time.Duration) *Service {
	return &Service{
		store:              s,
		pretix:             p,
		discord:            d,
		stateTokenLifetime: stateTokenLifetime,
		now:                time.Now,
	}
}

// Join handles the first leg: validate the signed ticket URL, work out the
// nickname and roles, park them behind a fresh state token, and send the
// attendee into Discord's OAuth2 consent flow. Tickets that already finished
// the flow are redirected straight to the welcome channel.
func (s *Service) Join(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingTicket
	}

	ticket, err := s.pretix.VerifyTicket(token)
	if err != nil {
		slog.InfoContext(ctx, "ticket token rejected", "error", err)
		return "", ErrInvalidTicket
	}

	order, err := s.pretix.FetchOrder(ctx, ticket.Order)
	if err != nil {
		slog.WarnContext(ctx, "order lookup failed", "order", ticket.Order, "error", err)
		return "", ErrTicketLookup
	}

	position, ok := order.FindPosition(ticket.Position)
	if !ok {
		return "", ErrTicketNotValid
	}
	if order.Status != pretix.Paid || position.Canceled {
		return "", ErrTicketNotValid
	}

	if _, err := s.store.SelectActive(ctx, ticket.Order, ticket.Position); err == nil {
		// Already registered; nothing to redo.
		return s.discord.WelcomeURL(), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(ctx, "active lookup failed", "order", ticket.Order, "error", err)
		return "", ErrInternal
	}

	answers := position.AnswerMap()
	nickname := Nickname(answers)
	roles := Roles(order.Items(), answers)

	stateToken, err := NewStateToken()
	if err != nil {
		slog.ErrorContext(ctx, "state token generation failed", "error", err)
		return "", ErrInternal
	}

	err = s.store.InsertPending(ctx, store.Pending{
		OrderCode:  ticket.Order,
		Position:   ticket.Position,
		StateToken: stateToken,
		Created:    s.now().UTC(),
		Nickname:   nickname,
		Roles:      roles,
	})
	if err != nil {
		slog.ErrorContext(ctx, "pending insert failed", "order", ticket.Order, "error", err)
		return "", ErrInternal
	}

	return s.discord.AuthorizeURL(stateToken), nil
}

// Redirect handles the second leg, returning from Discord's consent screen:
// spend the state token, trade the code for an access token, and join the
// user to the guild with the attributes parked on the first leg.
func (s *Service) Redirect(ctx context.Context, code, state string) (string, error) {
	if code == "" || state == "" {
		return "", ErrInvalidState
	}

	pending, err := s.store.SelectPendingByState(ctx, state)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidState
		}
		slog.ErrorContext(ctx, "pending lookup failed", "error", err)
		return "", ErrInternal
	}

	// The token is single use: delete the row before anything else so a
	// replayed callback cannot join twice, even when this attempt fails later.
	if err := s.store.DeletePending(ctx, pending.OrderCode, pending.Position); err != nil {
		slog.ErrorContext(ctx, "pending delete failed", "order", pending.OrderCode, "error", err)
		return "", ErrInternal
	}

	if s.now().UTC().Sub(pending.Created) > s.stateTokenLifetime {
		return "", ErrStateExpired
	}

	token, err := s.discord.ExchangeCode(ctx, code)
	if err != nil {
		slog.WarnContext(ctx, "code exchange failed", "error", err)
		return "", ErrInternal
	}

	user, err := s.discord.CurrentUser(ctx, token)
	if err != nil {
		slog.WarnContext(ctx, "current user lookup failed", "error", err)
		return "", ErrInternal
	}

	if err := s.discord.AddGuildMember(ctx, user.ID, token.AccessToken, pending.Nickname, pending.Roles); err != nil {
		slog.WarnContext(ctx, "guild member add failed", "user", user.ID, "error", err)
		return "", ErrGuildJoin
	}

	err = s.store.InsertActive(ctx, store.Active{
		OrderCode: pending.OrderCode,
		Position:  pending.Position,
		UserID:    user.ID,
		Created:   pending.Created,
		Nickname:  pending.Nickname,
		Roles:     pending.Roles,
	})
	if err != nil {
		slog.ErrorContext(ctx, "active insert failed", "order", pending.OrderCode, "error", err)
		return "", ErrInternal
	}

	return s.discord.WelcomeURL(), nil
}

// RunDeepHealth probes all three dependencies concurrently.
func (s *Service) RunDeepHealth(ctx context.Context) map[string]health.ProbeResult {
	results := make(map[string]health.ProbeResult, 3)
	var mu sync.Mutex
	var g errgroup.Group

	probes := []func(context.Context) health.ProbeResult{
		s.store.Probe,
		s.pretix.Probe,
		s.discord.Probe,
	}
	for _, probe := range probes {
		g.Go(func() error {
			result := probe(ctx)
			mu.Lock()
			results[result.Name] = result
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}
