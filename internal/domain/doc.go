package domain

import (
	"encoding/json"
	"time"

	"github.com/piyushsatti/nonagon/internal/ids"
)

// Document serialization. Entities persist as JSON documents carrying their
// own entity ID under a nested value field plus a redundant guild_id. Some
// historic documents carry zoned timestamps; decoding normalises every
// timestamp to UTC without rewriting the stored form.

func EncodeUser(u *User) ([]byte, error)           { return json.Marshal(u) }
func EncodeQuest(q *Quest) ([]byte, error)         { return json.Marshal(q) }
func EncodeCharacter(c *Character) ([]byte, error) { return json.Marshal(c) }
func EncodeSummary(s *Summary) ([]byte, error)     { return json.Marshal(s) }

func DecodeUser(data []byte) (*User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	u.JoinedAt = u.JoinedAt.UTC()
	u.LastActiveAt = u.LastActiveAt.UTC()
	return &u, nil
}

func DecodeQuest(data []byte) (*Quest, error) {
	var q Quest
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, err
	}
	q.StartingAt = q.StartingAt.UTC()
	q.CreatedAt = q.CreatedAt.UTC()
	q.UpdatedAt = q.UpdatedAt.UTC()
	q.AnnounceAt = utcPtr(q.AnnounceAt)
	q.StartedAt = utcPtr(q.StartedAt)
	q.EndedAt = utcPtr(q.EndedAt)
	q.LastNudgedAt = utcPtr(q.LastNudgedAt)
	return &q, nil
}

func DecodeCharacter(data []byte) (*Character, error) {
	var c Character
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func DecodeSummary(data []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.EditedAt = s.EditedAt.UTC()
	return &s, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// SignupSource is the sum of payload shapes a signup request may arrive in:
// a postal string, a legacy numeric body, or a structured id object. Each
// variant knows how to resolve itself to an ID of the expected kind.
type SignupSource struct {
	raw any
}

func SignupSourceFromString(s string) SignupSource    { return SignupSource{raw: s} }
func SignupSourceFromLegacy(n int64) SignupSource     { return SignupSource{raw: n} }
func SignupSourceFromStructured(m map[string]any) SignupSource {
	return SignupSource{raw: m}
}

// Resolve decodes the source into an ID of the required kind.
func (s SignupSource) Resolve(kind ids.Kind) (ids.ID, error) {
	switch v := s.raw.(type) {
	case string:
		return ids.ParseKind(v, kind)
	case int64:
		// Legacy numeric bodies are stored zero-padded to six digits.
		return ids.ParseKind(string(kind)+padLegacy(v), kind)
	case map[string]any:
		id, err := ids.ParseAny(v)
		if err != nil {
			return ids.ID{}, err
		}
		if id.Kind != kind {
			return ids.ID{}, Validationf("id %s is not a %s id", id, kind)
		}
		return id, nil
	default:
		return ids.ID{}, Validationf("unsupported signup payload")
	}
}

func padLegacy(n int64) string {
	digits := []byte("000000")
	for i := 5; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}
