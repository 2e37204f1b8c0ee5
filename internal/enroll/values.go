package enroll

import (
	"crypto/rand"
	"math/big"
	"sort"
	"strings"
)

const (
	stateTokenChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.,-:"
	stateTokenLength = 23
)

// Discord role snowflakes for the conference guild.
var roleIDs = map[string]int64{
	"volunteer":  1307641013493305379,
	"core":       1307641013493305380,
	"av":         1307641013493305378,
	"specialist": 1307641013258420242,
	"education":  1307641013258420238,
	"scientific": 1307641013258420241,
	"devoops":    1307641013258420240,
	"speaker":    1307641013493305377,
	"sprints":    1307641013258420237,
	"sponsor":    1307641013493305376,
}

// Pretix item IDs that grant roles.
var (
	teamMemberItems = map[int]struct{}{569202: {}, 637767: {}}
	speakerItems    = map[int]struct{}{569203: {}, 637766: {}}
	sprintsItems    = map[int]struct{}{569209: {}, 569215: {}, 569216: {}}
)

// teamRoles maps the "team" order answer to the roles it confers.
var teamRoles = map[string][]int64{
	"Volunteer Team":    {roleIDs["volunteer"]},
	"Core Team":         {roleIDs["core"]},
	"AV Team":           {roleIDs["av"]},
	"Education":         {roleIDs["specialist"], roleIDs["education"]},
	"Scientific Python": {roleIDs["specialist"], roleIDs["scientific"]},
	"All Things Data":   {roleIDs["specialist"], roleIDs["scientific"]},
	"DevOops":           {roleIDs["specialist"], roleIDs["devoops"]},
}

// NewStateToken generates the random token that matches the OAuth2 callback
// to its pending registration.
func NewStateToken() (string, error) {
	var b strings.Builder
	b.Grow(stateTokenLength)
	alphabet := big.NewInt(int64(len(stateTokenChars)))
	for range stateTokenLength {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", err
		}
		b.WriteByte(stateTokenChars[n.Int64()])
	}
	return b.String(), nil
}

// Nickname derives the guild nickname from the order answers. It returns nil
// when no primary name was answered, leaving the attendee's Discord name
// untouched. The east_asian_name_order answer puts the family name first.
func Nickname(answers map[string]string) *string {
	primary, ok := answers["primary_name"]
	if !ok {
		return nil
	}

	var nick string
	if answers["east_asian_name_order"] == "True" {
		nick = strings.TrimSpace(answers["additional_names"] + " " + primary)
	} else {
		nick = strings.TrimSpace(primary + " " + answers["additional_names"])
	}
	return &nick
}

// Roles derives the initial role set from the order's items and answers.
// The result is sorted so equal inputs produce equal slices.
func Roles(items map[int]struct{}, answers map[string]string) []int64 {
	set := make(map[int64]struct{})

	for item := range items {
		if _, ok := teamMemberItems[item]; ok {
			for _, role := range teamRoles[answers["team"]] {
				set[role] = struct{}{}
			}
		}
		if _, ok := speakerItems[item]; ok {
			set[roleIDs["speaker"]] = struct{}{}
		}
		if _, ok := sprintsItems[item]; ok {
			set[roleIDs["sprints"]] = struct{}{}
		}
	}

	if answers["sponsor"] == "True" {
		set[roleIDs["sponsor"]] = struct{}{}
	}

	roles := make([]int64, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
