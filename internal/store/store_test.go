package store

import (
	"testing"

	"github.com/gkorepanov/barrier-bot/internal/auth"
	"github.com/gkorepanov/barrier-bot/internal/callback"
)

func TestUserSetFields_OmitsEmptyFields(t *testing.T) {
	cases := []struct {
		name string
		id   auth.Identity
		keys []string
	}{
		{
			name: "id only",
			id:   auth.Identity{UserID: 1},
			keys: []string{"_id"},
		},
		{
			name: "username only",
			id:   auth.Identity{UserID: 1, Username: "u"},
			keys: []string{"_id", "username"},
		},
		{
			name: "full identity",
			id:   auth.Identity{UserID: 1, Username: "u", FirstName: "F", LastName: "L"},
			keys: []string{"_id", "username", "first_name", "last_name"},
		},
	}
	for _, tc := range cases {
		set := userSetFields(tc.id)
		if len(set) != len(tc.keys) {
			t.Fatalf("%s: set doc has %d keys (%v), want %d", tc.name, len(set), set, len(tc.keys))
		}
		for _, k := range tc.keys {
			if _, ok := set[k]; !ok {
				t.Fatalf("%s: set doc missing key %q", tc.name, k)
			}
		}
	}
}

func TestUserSetFields_NeverWritesRole(t *testing.T) {
	// Identity upserts must not touch the role field; only SetRole does.
	set := userSetFields(auth.Identity{UserID: 1, Username: "u", FirstName: "F", LastName: "L"})
	if _, ok := set["role"]; ok {
		t.Fatal("identity upsert writes the role field")
	}
}

func TestRoleFromDoc(t *testing.T) {
	cases := []struct {
		stored  string
		want    callback.Role
		wantErr bool
	}{
		{stored: "", want: callback.RoleBanned},
		{stored: "admin", want: callback.RoleAdmin},
		{stored: "user", want: callback.RoleUser},
		{stored: "banned", want: callback.RoleBanned},
		{stored: "root", wantErr: true},
	}
	for _, tc := range cases {
		got, err := roleFromDoc(tc.stored)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("roleFromDoc(%q) accepted an unknown role", tc.stored)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("roleFromDoc(%q) = (%v, %v), want %v", tc.stored, got, err, tc.want)
		}
	}
}
