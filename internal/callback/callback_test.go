package callback

import (
	"errors"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []Command{
		ChooseRole{Role: RoleAdmin, TargetUserID: 42},
		ChooseRole{Role: RoleBanned, TargetUserID: -7},
		GrantBarrierAccess{BarrierID: "60f1a2b3c4d5e6f7a8b9c0d1", TargetUserID: 42},
		OpenBarrier{BarrierID: "60f1a"},
	}
	for _, cmd := range cases {
		token, err := Encode(cmd)
		if err != nil {
			t.Fatalf("Encode(%+v) error = %v", cmd, err)
		}
		got, err := Decode(token)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", token, err)
		}
		if got != cmd {
			t.Fatalf("Decode(Encode(%+v)) = %+v", cmd, got)
		}
	}
}

func TestDecode_OpenBarrierWireFormat(t *testing.T) {
	got, err := Decode("barrier|60f1a")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := OpenBarrier{BarrierID: "60f1a"}
	if got != want {
		t.Fatalf("Decode() = %+v, want %+v", got, want)
	}
	token, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if token != "barrier|60f1a" {
		t.Fatalf("Encode() = %q, want %q", token, "barrier|60f1a")
	}
}

func TestDecode_UnknownTag(t *testing.T) {
	cases := []string{
		"bogus|1",
		"barrier_|60f1a",
		// Prefixes of registered tags must not match.
		"barr|60f1a",
		"choose|admin|42",
		"",
	}
	for _, token := range cases {
		_, err := Decode(token)
		var tagErr *UnknownTagError
		if !errors.As(err, &tagErr) {
			t.Fatalf("Decode(%q) error = %v, want UnknownTagError", token, err)
		}
	}
}

func TestDecode_TagPrefixesDoNotCollide(t *testing.T) {
	// "barrier" is a strict prefix of "barrier_access"; each must decode to
	// its own variant with its own arity.
	cmd, err := Decode("barrier_access|60f1a|42")
	if err != nil {
		t.Fatalf("Decode(barrier_access) error = %v", err)
	}
	if _, ok := cmd.(GrantBarrierAccess); !ok {
		t.Fatalf("Decode(barrier_access) = %T, want GrantBarrierAccess", cmd)
	}

	var countErr *FieldCountError
	if _, err := Decode("barrier|60f1a|42"); !errors.As(err, &countErr) {
		t.Fatalf("Decode(barrier with 2 fields) error = %v, want FieldCountError", err)
	}
}

func TestDecode_FieldCountMismatch(t *testing.T) {
	cases := []struct {
		token string
		want  int
		got   int
	}{
		{token: "choose_role|admin", want: 2, got: 1},
		{token: "choose_role|admin|42|extra", want: 2, got: 3},
		{token: "barrier", want: 1, got: 0},
		{token: "barrier_access|60f1a", want: 2, got: 1},
	}
	for _, tc := range cases {
		_, err := Decode(tc.token)
		var countErr *FieldCountError
		if !errors.As(err, &countErr) {
			t.Fatalf("Decode(%q) error = %v, want FieldCountError", tc.token, err)
		}
		if countErr.Want != tc.want || countErr.Got != tc.got {
			t.Fatalf("Decode(%q) counts = got %d want %d, expected got %d want %d",
				tc.token, countErr.Got, countErr.Want, tc.got, tc.want)
		}
	}
}

func TestDecode_FieldParseFailure(t *testing.T) {
	cases := []struct {
		token string
		index int
	}{
		{token: "choose_role|superuser|42", index: 0},
		{token: "choose_role|admin|notanumber", index: 1},
		{token: "barrier|", index: 0},
		{token: "barrier_access||42", index: 0},
		{token: "barrier_access|60f1a|x", index: 1},
	}
	for _, tc := range cases {
		_, err := Decode(tc.token)
		var parseErr *FieldParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("Decode(%q) error = %v, want FieldParseError", tc.token, err)
		}
		if parseErr.Index != tc.index {
			t.Fatalf("Decode(%q) failed at field %d, want %d", tc.token, parseErr.Index, tc.index)
		}
	}
}

func TestEncode_RejectsDelimiterInField(t *testing.T) {
	if _, err := Encode(OpenBarrier{BarrierID: "60f|1a"}); err == nil {
		t.Fatal("Encode() accepted a field containing the delimiter")
	}
	if _, err := Encode(GrantBarrierAccess{BarrierID: "a|b", TargetUserID: 1}); err == nil {
		t.Fatal("Encode() accepted a field containing the delimiter")
	}
}

func TestTag_RoutesByExactMatch(t *testing.T) {
	cases := []struct {
		token string
		tag   string
		ok    bool
	}{
		{token: "barrier|60f1a", tag: "barrier", ok: true},
		{token: "barrier_access|60f1a|42", tag: "barrier_access", ok: true},
		{token: "choose_role|admin|42", tag: "choose_role", ok: true},
		{token: "barrierx|60f1a", tag: "barrierx", ok: false},
		{token: "nonsense", tag: "nonsense", ok: false},
	}
	for _, tc := range cases {
		tag, ok := Tag(tc.token)
		if tag != tc.tag || ok != tc.ok {
			t.Fatalf("Tag(%q) = (%q, %v), want (%q, %v)", tc.token, tag, ok, tc.tag, tc.ok)
		}
	}
}

func TestFitsLimit(t *testing.T) {
	token, err := Encode(GrantBarrierAccess{BarrierID: "60f1a2b3c4d5e6f7a8b9c0d1", TargetUserID: 1234567890})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !FitsLimit(token) {
		t.Fatalf("FitsLimit(%q) = false for a %d byte token", token, len(token))
	}
	long := "barrier|" + string(make([]byte, MaxTokenBytes))
	if FitsLimit(long) {
		t.Fatal("FitsLimit() accepted an oversized token")
	}
}

func TestParseRole(t *testing.T) {
	for _, role := range Roles() {
		got, err := ParseRole(string(role))
		if err != nil || got != role {
			t.Fatalf("ParseRole(%q) = (%v, %v)", role, got, err)
		}
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatal("ParseRole() accepted an unknown role")
	}
}
