// Package callback encodes bot commands into the short text tokens carried
// by inline-keyboard buttons and decodes them back on button press.
//
// A token is the command's tag followed by its field values, joined with a
// single delimiter character: "tag|field|...". Tokens are pure functions of
// the command: nothing is persisted, and a token lives exactly as long as
// the button that carries it.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates the tag and field segments of a token. Field values
// must never contain it; Encode rejects values that do.
const Delimiter = "|"

// MaxTokenBytes is the Telegram callback_data payload limit. Encode does not
// enforce it; callers validate with FitsLimit before rendering a button.
const MaxTokenBytes = 64

// Role is a user's access tier. Absence of a stored role is mapped to
// RoleBanned at the store-read boundary, so no "missing" case exists here.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleBanned Role = "banned"
)

// Roles lists every role in presentation order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleUser, RoleBanned}
}

// ParseRole maps a canonical string back to its Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleUser, RoleBanned:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// Command is one variant of the button-command union. Each variant owns a
// unique tag used both for encoding and for routing incoming tokens to the
// right handler before the full decode.
type Command interface {
	Tag() string
	fieldValues() []string
}

// Variant tags. TagOpenBarrier is a strict prefix of TagBarrierAccess;
// decoding matches tags exactly, never by prefix.
const (
	TagChooseRole    = "choose_role"
	TagBarrierAccess = "barrier_access"
	TagOpenBarrier   = "barrier"
)

// ChooseRole assigns a role to a user.
type ChooseRole struct {
	Role         Role
	TargetUserID int64
}

func (c ChooseRole) Tag() string { return TagChooseRole }

func (c ChooseRole) fieldValues() []string {
	return []string{string(c.Role), strconv.FormatInt(c.TargetUserID, 10)}
}

// GrantBarrierAccess toggles a user's access to one barrier.
type GrantBarrierAccess struct {
	BarrierID    string
	TargetUserID int64
}

func (c GrantBarrierAccess) Tag() string { return TagBarrierAccess }

func (c GrantBarrierAccess) fieldValues() []string {
	return []string{c.BarrierID, strconv.FormatInt(c.TargetUserID, 10)}
}

// OpenBarrier triggers the outbound call that opens a barrier.
type OpenBarrier struct {
	BarrierID string
}

func (c OpenBarrier) Tag() string { return TagOpenBarrier }

func (c OpenBarrier) fieldValues() []string {
	return []string{c.BarrierID}
}

// UnknownTagError reports a token whose leading segment matches no variant.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("callback: unknown tag %q", e.Tag)
}

// FieldCountError reports a token whose segment count does not match the
// variant's declared arity.
type FieldCountError struct {
	Tag  string
	Got  int
	Want int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("callback: %s expects %d fields, got %d", e.Tag, e.Want, e.Got)
}

// FieldParseError reports a segment that cannot be parsed as its declared
// field type. Index is zero-based over the fields, excluding the tag.
type FieldParseError struct {
	Tag   string
	Index int
	Err   error
}

func (e *FieldParseError) Error() string {
	return fmt.Sprintf("callback: %s field %d: %v", e.Tag, e.Index, e.Err)
}

func (e *FieldParseError) Unwrap() error { return e.Err }

type decodeFunc func(fields []string) (Command, error)

// registry maps each tag to its decoder. Lookup is by exact map key, which
// keeps prefix-related tags (barrier vs barrier_access) from colliding.
var registry = map[string]decodeFunc{
	TagChooseRole:    decodeChooseRole,
	TagBarrierAccess: decodeBarrierAccess,
	TagOpenBarrier:   decodeOpenBarrier,
}

// arity is the declared field count per tag, validated before any field parse.
var arity = map[string]int{
	TagChooseRole:    2,
	TagBarrierAccess: 2,
	TagOpenBarrier:   1,
}

// Encode serializes a command into its token form. It fails when a field
// value contains the delimiter: such a value would corrupt decoding, and
// the codec refuses it instead of escaping or truncating.
func Encode(cmd Command) (string, error) {
	fields := cmd.fieldValues()
	for i, f := range fields {
		if strings.Contains(f, Delimiter) {
			return "", fmt.Errorf("callback: %s field %d contains delimiter %q", cmd.Tag(), i, Delimiter)
		}
	}
	return cmd.Tag() + Delimiter + strings.Join(fields, Delimiter), nil
}

// Decode parses a token back into its command. Arity is checked before any
// field is parsed, and the tag must match a registered variant exactly.
func Decode(token string) (Command, error) {
	parts := strings.Split(token, Delimiter)
	tag := parts[0]
	decode, ok := registry[tag]
	if !ok {
		return nil, &UnknownTagError{Tag: tag}
	}
	fields := parts[1:]
	if want := arity[tag]; len(fields) != want {
		return nil, &FieldCountError{Tag: tag, Got: len(fields), Want: want}
	}
	return decode(fields)
}

// Tag extracts a token's leading segment and reports whether it names a
// registered variant. Routing uses this before the full decode.
func Tag(token string) (string, bool) {
	tag, _, _ := strings.Cut(token, Delimiter)
	_, ok := registry[tag]
	return tag, ok
}

// FitsLimit reports whether a token fits the callback_data payload limit.
func FitsLimit(token string) bool {
	return len(token) <= MaxTokenBytes
}

// IsProtocolError reports whether err is one of the decode error kinds.
// Handlers treat these as locally recoverable: reply "invalid command" and
// execute nothing.
func IsProtocolError(err error) bool {
	var unknownTag *UnknownTagError
	var fieldCount *FieldCountError
	var fieldParse *FieldParseError
	return errors.As(err, &unknownTag) || errors.As(err, &fieldCount) || errors.As(err, &fieldParse)
}

func decodeChooseRole(fields []string) (Command, error) {
	role, err := ParseRole(fields[0])
	if err != nil {
		return nil, &FieldParseError{Tag: TagChooseRole, Index: 0, Err: err}
	}
	userID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, &FieldParseError{Tag: TagChooseRole, Index: 1, Err: err}
	}
	return ChooseRole{Role: role, TargetUserID: userID}, nil
}

func decodeBarrierAccess(fields []string) (Command, error) {
	if err := validateIdentifier(fields[0]); err != nil {
		return nil, &FieldParseError{Tag: TagBarrierAccess, Index: 0, Err: err}
	}
	userID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, &FieldParseError{Tag: TagBarrierAccess, Index: 1, Err: err}
	}
	return GrantBarrierAccess{BarrierID: fields[0], TargetUserID: userID}, nil
}

func decodeOpenBarrier(fields []string) (Command, error) {
	if err := validateIdentifier(fields[0]); err != nil {
		return nil, &FieldParseError{Tag: TagOpenBarrier, Index: 0, Err: err}
	}
	return OpenBarrier{BarrierID: fields[0]}, nil
}

func validateIdentifier(s string) error {
	if s == "" {
		return errors.New("empty identifier")
	}
	return nil
}
