// Package auth decides whether a user may run a command. The decision is
// evaluated before any handler executes; a denial is a normal terminal
// outcome, not an error.
package auth

import (
	"context"
	"strings"

	"github.com/gkorepanov/barrier-bot/internal/callback"
)

// Store is the slice of the user store the gate consults. Upsert and reads
// are atomic on the store side, so concurrent decisions for the same user
// need no extra locking here.
type Store interface {
	// UpsertUser creates or updates the user record. Empty fields must be
	// left untouched in the stored record; this call is the single place
	// user records are created.
	UpsertUser(ctx context.Context, id Identity) error
	// GetRole returns the user's role. A missing record or a record with
	// no role maps to callback.RoleBanned at this boundary.
	GetRole(ctx context.Context, userID int64) (callback.Role, error)
	// IsAllowedToOpen reports whether the user's role permits opening
	// barriers at all. Per-barrier grants are checked at open time.
	IsAllowedToOpen(ctx context.Context, userID int64) (bool, error)
}

// Identity carries the user fields known from the inbound update.
type Identity struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// Requirements are the flags a route declares before its handler runs.
type Requirements struct {
	RequireAdmin         bool
	RequireBarrierAccess bool
}

// Reason says which rule produced the decision.
type Reason string

const (
	ReasonNotRequired    Reason = "not_required"
	ReasonRoleSufficient Reason = "role_sufficient"
	ReasonAllowListed    Reason = "allow_listed"
	ReasonDenied         Reason = "denied"
)

// Decision is the gate's verdict for one inbound event.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Gate evaluates role requirements against the store and a static admin
// allow-list from config. The allow-list is checked independently of the
// stored role, so a configured admin can act before any record exists.
type Gate struct {
	store  Store
	admins map[string]bool
}

func NewGate(store Store, adminUsernames []string) *Gate {
	admins := make(map[string]bool, len(adminUsernames))
	for _, u := range adminUsernames {
		u = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
		if u == "" {
			continue
		}
		admins[u] = true
	}
	return &Gate{store: store, admins: admins}
}

// Decide upserts the user's identity fields and evaluates the requirements.
// The upsert is unconditional and idempotent.
func (g *Gate) Decide(ctx context.Context, id Identity, req Requirements) (Decision, error) {
	if err := g.store.UpsertUser(ctx, id); err != nil {
		return Decision{}, err
	}

	role, err := g.store.GetRole(ctx, id.UserID)
	if err != nil {
		return Decision{}, err
	}

	allowListed := g.allowListed(id.Username)
	isAdmin := role == callback.RoleAdmin || allowListed

	if !req.RequireAdmin && !req.RequireBarrierAccess {
		return Decision{Allow: true, Reason: ReasonNotRequired}, nil
	}

	if req.RequireAdmin && !isAdmin {
		return Decision{Allow: false, Reason: ReasonDenied}, nil
	}

	if req.RequireBarrierAccess && !isAdmin {
		allowed, err := g.store.IsAllowedToOpen(ctx, id.UserID)
		if err != nil {
			return Decision{}, err
		}
		if !allowed {
			return Decision{Allow: false, Reason: ReasonDenied}, nil
		}
	}

	reason := ReasonRoleSufficient
	if isAdmin && role != callback.RoleAdmin {
		reason = ReasonAllowListed
	}
	return Decision{Allow: true, Reason: reason}, nil
}

func (g *Gate) allowListed(username string) bool {
	username = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if username == "" {
		return false
	}
	return g.admins[username]
}
