package store

import "time"

// Pending is a registration that has been sent into the Discord OAuth2 flow
// but has not returned yet. Roles are Discord role snowflakes.
type Pending struct {
	OrderCode  string
	Position   int
	StateToken string
	Created    time.Time
	Nickname   *string
	Roles      []int64
}

// Active is a completed registration: the ticket holder is a guild member.
type Active struct {
	OrderCode string
	Position  int
	UserID    string
	Created   time.Time
	Nickname  *string
	Roles     []int64
}
