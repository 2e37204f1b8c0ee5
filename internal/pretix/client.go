// Package pretix verifies ticket tokens minted by the Pretix ticket shop and
// retrieves the orders they reference.
package pretix

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"

	"github.com/pyconau/precord/internal/config"
	"github.com/pyconau/precord/internal/health"
)

// ErrUpstream is returned when the Pretix API does not answer 200.
var ErrUpstream = errors.New("pretix: upstream request failed")

// Paid is the Pretix order status for a fully paid order.
const Paid = "p"

// Ticket identifies one position within a Pretix order, as carried in the
// signed URL Pretix hands the attendee.
type Ticket struct {
	Order    string
	Position int
}

// Order is the subset of a Pretix order the enrolment flow inspects.
type Order struct {
	Status    string     `json:"status"`
	Positions []Position `json:"positions"`
}

// Position is one line item of an order.
type Position struct {
	PositionID int      `json:"positionid"`
	Item       int      `json:"item"`
	Canceled   bool     `json:"canceled"`
	Answers    []Answer `json:"answers"`
}

// Answer is a response to one of the questions asked during ordering.
type Answer struct {
	QuestionIdentifier string `json:"question_identifier"`
	Answer             string `json:"answer"`
}

// FindPosition returns the position with the given positionid.
func (o *Order) FindPosition(positionID int) (*Position, bool) {
	for i := range o.Positions {
		if o.Positions[i].PositionID == positionID {
			return &o.Positions[i], true
		}
	}
	return nil, false
}

// Items returns the set of item IDs across all non-canceled positions.
func (o *Order) Items() map[int]struct{} {
	items := make(map[int]struct{})
	for _, pos := range o.Positions {
		if !pos.Canceled {
			items[pos.Item] = struct{}{}
		}
	}
	return items
}

// AnswerMap indexes the position's answers by question identifier.
func (p *Position) AnswerMap() map[string]string {
	answers := make(map[string]string, len(p.Answers))
	for _, a := range p.Answers {
		answers[a.QuestionIdentifier] = a.Answer
	}
	return answers
}

// Client talks to the Pretix REST API and verifies ticket JWTs.
type Client struct {
	cfg    config.PretixConfig
	pubKey *rsa.PublicKey
	http   *http.Client
	cb     *gobreaker.CircuitBreaker
}

// New parses the configured RS256 public key and returns a Client. A
// malformed key is a configuration error and fails construction.
func New(cfg config.PretixConfig, cb *gobreaker.CircuitBreaker) (*Client, error) {
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.JWTPublicKey))
	if err != nil {
		return nil, fmt.Errorf("parsing pretix JWT public key: %w", err)
	}

	return &Client{
		cfg:    cfg,
		pubKey: pubKey,
		http:   &http.Client{Timeout: 15 * time.Second},
		cb:     cb,
	}, nil
}

// VerifyTicket checks the RS256 signature on a ticket token and extracts the
// order code and position it refers to. Pretix has been observed emitting the
// position claim as both a number and a string, so both are accepted.
func (c *Client) VerifyTicket(token string) (*Ticket, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.pubKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("verifying ticket token: %w", err)
	}

	order, ok := claims["order"].(string)
	if !ok || order == "" {
		return nil, errors.New("ticket token carries no order claim")
	}

	var position int
	switch v := claims["position"].(type) {
	case float64:
		position = int(v)
	case string:
		position, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("ticket token carries non-numeric position %q", v)
		}
	default:
		return nil, errors.New("ticket token carries no position claim")
	}

	return &Ticket{Order: order, Position: position}, nil
}

// FetchOrder retrieves an order, including canceled positions, so the flow
// can tell a canceled ticket apart from an unknown one.
func (c *Client) FetchOrder(ctx context.Context, code string) (*Order, error) {
	url := fmt.Sprintf(
		"%s/api/v1/organizers/%s/events/%s/orders/%s/?include_canceled_positions=true",
		c.cfg.BaseURL, c.cfg.Organizer, c.cfg.Event, code,
	)

	out, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("building order request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+c.cfg.APIToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching order: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
		}

		var order Order
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return nil, fmt.Errorf("decoding order: %w", err)
		}
		return &order, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("%w: circuit open", ErrUpstream)
		}
		return nil, err
	}

	return out.(*Order), nil
}

// Probe checks that the configured event is reachable with the configured
// credentials. Shares the breaker with FetchOrder so a flapping Pretix trips
// both.
func (c *Client) Probe(ctx context.Context) health.ProbeResult {
	start := time.Now()

	url := fmt.Sprintf("%s/api/v1/organizers/%s/events/%s/",
		c.cfg.BaseURL, c.cfg.Organizer, c.cfg.Event)

	_, err := c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Token "+c.cfg.APIToken)

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
		return health.ProbeResult{Name: "pretix", OK: false, LatencyMs: latency, Error: errMsg}
	}

	return health.ProbeResult{Name: "pretix", OK: true, LatencyMs: latency}
}
