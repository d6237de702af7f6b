// Package ids implements the postal-format entity identifiers used across
// the coordination core. An ID is a fixed 4-character kind prefix followed
// by a 6-character body of alternating letters and digits (A1B2C3). Legacy
// purely-numeric bodies remain readable but are never generated.
package ids

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

// Kind is the 4-character prefix identifying an entity family.
type Kind string

const (
	KindUser      Kind = "USER"
	KindQuest     Kind = "QUES"
	KindCharacter Kind = "CHAR"
	KindSummary   Kind = "SUMM"
)

var (
	bodyPattern   = regexp.MustCompile(`^[A-Z]\d[A-Z]\d[A-Z]\d$`)
	legacyPattern = regexp.MustCompile(`^\d{1,6}$`)
)

// ID is a parsed postal identifier. The zero value is invalid.
type ID struct {
	Kind Kind
	Body string
}

func (id ID) String() string {
	return string(id.Kind) + id.Body
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id.Kind == "" && id.Body == ""
}

// Valid reports whether the ID has a known kind and a canonical or legacy body.
func (id ID) Valid() bool {
	switch id.Kind {
	case KindUser, KindQuest, KindCharacter, KindSummary:
	default:
		return false
	}
	return bodyPattern.MatchString(id.Body) || legacyPattern.MatchString(id.Body)
}

// Legacy reports whether the body is a legacy purely-numeric one.
func (id ID) Legacy() bool {
	return legacyPattern.MatchString(id.Body)
}

// MarshalJSON renders the ID in its document form: {"value": "USERA1B2C3"}.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value string `json:"value"`
	}{Value: id.String()})
}

// UnmarshalJSON accepts any of the historic document shapes: a bare string,
// a {"value": ...} object, or the split {"prefix": ..., "number": ...} form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseAny(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes a full postal string such as "USERA1B2C3". Legacy numeric
// bodies ("USER123456") are accepted.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) < 5 {
		return ID{}, fmt.Errorf("postal id %q too short", s)
	}
	id := ID{Kind: Kind(s[:4]), Body: s[4:]}
	if !id.Valid() {
		return ID{}, fmt.Errorf("invalid postal id %q", s)
	}
	return id, nil
}

// ParseKind decodes a postal string and requires the given kind.
func ParseKind(s string, kind Kind) (ID, error) {
	id, err := Parse(s)
	if err != nil {
		return ID{}, err
	}
	if id.Kind != kind {
		return ID{}, fmt.Errorf("postal id %q is not a %s id", s, kind)
	}
	return id, nil
}

// ParseAny decodes the historic payload shapes a document may carry for an
// entity ID: a string, a numeric legacy body, or a structured object with
// either a "value" field or split "prefix"/"number" fields.
func ParseAny(raw any) (ID, error) {
	switch v := raw.(type) {
	case string:
		return Parse(v)
	case float64:
		// Legacy numeric body with no prefix cannot be resolved to a kind.
		return ID{}, fmt.Errorf("bare numeric id %v carries no kind prefix", v)
	case map[string]any:
		if val, ok := v["value"].(string); ok {
			return Parse(val)
		}
		prefix, _ := v["prefix"].(string)
		if prefix == "" {
			return ID{}, fmt.Errorf("structured id missing value and prefix")
		}
		switch num := v["number"].(type) {
		case string:
			return Parse(prefix + num)
		case float64:
			return Parse(fmt.Sprintf("%s%06d", prefix, int64(num)))
		default:
			return ID{}, fmt.Errorf("structured id %q missing number", prefix)
		}
	default:
		return ID{}, fmt.Errorf("unsupported id payload %T", raw)
	}
}

// New generates a random ID of the given kind with a canonical body.
// Collisions are resolved by the caller regenerating at insert time.
func New(kind Kind) ID {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const digits = "0123456789"
	b := make([]byte, 6)
	for i := 0; i < 6; i += 2 {
		b[i] = letters[rand.IntN(len(letters))]
		b[i+1] = digits[rand.IntN(len(digits))]
	}
	return ID{Kind: kind, Body: string(b)}
}

// NewUser, NewQuest, NewCharacter and NewSummary are kind-fixed generators.
func NewUser() ID      { return New(KindUser) }
func NewQuest() ID     { return New(KindQuest) }
func NewCharacter() ID { return New(KindCharacter) }
func NewSummary() ID   { return New(KindSummary) }
