package auth

import (
	"context"
	"testing"

	"github.com/gkorepanov/barrier-bot/internal/callback"
)

// fakeStore mirrors the store contract: missing role reads as banned, and
// upserts with empty fields never clear stored values.
type fakeStore struct {
	roles       map[int64]callback.Role
	openAllowed map[int64]bool
	users       map[int64]Identity
	upserts     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:       map[int64]callback.Role{},
		openAllowed: map[int64]bool{},
		users:       map[int64]Identity{},
	}
}

func (s *fakeStore) UpsertUser(_ context.Context, id Identity) error {
	s.upserts++
	cur := s.users[id.UserID]
	cur.UserID = id.UserID
	if id.Username != "" {
		cur.Username = id.Username
	}
	if id.FirstName != "" {
		cur.FirstName = id.FirstName
	}
	if id.LastName != "" {
		cur.LastName = id.LastName
	}
	s.users[id.UserID] = cur
	return nil
}

func (s *fakeStore) GetRole(_ context.Context, userID int64) (callback.Role, error) {
	role, ok := s.roles[userID]
	if !ok {
		return callback.RoleBanned, nil
	}
	return role, nil
}

func (s *fakeStore) IsAllowedToOpen(_ context.Context, userID int64) (bool, error) {
	return s.openAllowed[userID], nil
}

func TestDecide_NoRequirements(t *testing.T) {
	store := newFakeStore()
	gate := NewGate(store, nil)

	d, err := gate.Decide(context.Background(), Identity{UserID: 1}, Requirements{})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !d.Allow || d.Reason != ReasonNotRequired {
		t.Fatalf("Decide() = %+v, want allow with ReasonNotRequired", d)
	}
	if store.upserts != 1 {
		t.Fatalf("Decide() performed %d upserts, want 1", store.upserts)
	}
}

func TestDecide_DeniesUnknownUserForBarrierAccess(t *testing.T) {
	gate := NewGate(newFakeStore(), nil)

	d, err := gate.Decide(context.Background(), Identity{UserID: 7, Username: "nobody"},
		Requirements{RequireBarrierAccess: true})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Allow || d.Reason != ReasonDenied {
		t.Fatalf("Decide() = %+v, want denial", d)
	}
}

func TestDecide_AllowListWorksBeforeAnyRecordExists(t *testing.T) {
	store := newFakeStore()
	gate := NewGate(store, []string{"@Boss", "other"})

	d, err := gate.Decide(context.Background(), Identity{UserID: 9, Username: "boss"},
		Requirements{RequireAdmin: true})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !d.Allow || d.Reason != ReasonAllowListed {
		t.Fatalf("Decide() = %+v, want allow with ReasonAllowListed", d)
	}
}

func TestDecide_StoredAdminRole(t *testing.T) {
	store := newFakeStore()
	store.roles[3] = callback.RoleAdmin
	gate := NewGate(store, nil)

	d, err := gate.Decide(context.Background(), Identity{UserID: 3},
		Requirements{RequireAdmin: true, RequireBarrierAccess: true})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !d.Allow || d.Reason != ReasonRoleSufficient {
		t.Fatalf("Decide() = %+v, want allow with ReasonRoleSufficient", d)
	}
}

func TestDecide_UserRolePassesBarrierAccessOnly(t *testing.T) {
	store := newFakeStore()
	store.roles[4] = callback.RoleUser
	store.openAllowed[4] = true
	gate := NewGate(store, nil)

	d, err := gate.Decide(context.Background(), Identity{UserID: 4},
		Requirements{RequireBarrierAccess: true})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !d.Allow || d.Reason != ReasonRoleSufficient {
		t.Fatalf("Decide() = %+v, want allow", d)
	}

	d, err = gate.Decide(context.Background(), Identity{UserID: 4},
		Requirements{RequireAdmin: true})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Allow {
		t.Fatalf("Decide() = %+v, want admin denial for plain user", d)
	}
}

func TestDecide_BannedRoleDenied(t *testing.T) {
	store := newFakeStore()
	store.roles[5] = callback.RoleBanned
	gate := NewGate(store, nil)

	d, err := gate.Decide(context.Background(), Identity{UserID: 5},
		Requirements{RequireBarrierAccess: true})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if d.Allow {
		t.Fatalf("Decide() = %+v, want denial for banned user", d)
	}
}

func TestDecide_UpsertPreservesStoredFields(t *testing.T) {
	store := newFakeStore()
	gate := NewGate(store, nil)
	ctx := context.Background()

	if _, err := gate.Decide(ctx, Identity{UserID: 6, Username: "u", FirstName: "First"}, Requirements{}); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	// Second upsert omits the first name; it must survive.
	if _, err := gate.Decide(ctx, Identity{UserID: 6, Username: "renamed"}, Requirements{}); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	got := store.users[6]
	if got.Username != "renamed" || got.FirstName != "First" {
		t.Fatalf("stored identity = %+v, want renamed username with preserved first name", got)
	}
}
