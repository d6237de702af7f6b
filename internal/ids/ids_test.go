package ids_test

import (
	"encoding/json"
	"testing"

	"github.com/piyushsatti/nonagon/internal/ids"
)

func TestParse_CanonicalBody(t *testing.T) {
	id, err := ids.Parse("USERA0B1C2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Kind != ids.KindUser || id.Body != "A0B1C2" {
		t.Fatalf("unexpected id: %+v", id)
	}
	if id.Legacy() {
		t.Fatal("canonical body flagged legacy")
	}
}

func TestParse_RejectsMalformedBody(t *testing.T) {
	cases := []string{
		"USERA00B1C", // digit run breaks alternation
		"USERa0b1c2", // lowercase
		"USER",       // empty body
		"XXXXA0B1C2", // unknown prefix
		"US",         // too short
	}
	for _, raw := range cases {
		if _, err := ids.Parse(raw); err == nil {
			t.Errorf("Parse(%q) unexpectedly succeeded", raw)
		}
	}
}

func TestParse_LegacyNumericBody(t *testing.T) {
	id, err := ids.Parse("QUES123456")
	if err != nil {
		t.Fatalf("parse legacy: %v", err)
	}
	if !id.Legacy() {
		t.Fatal("numeric body not flagged legacy")
	}
	if id.String() != "QUES123456" {
		t.Fatalf("round trip mismatch: %s", id)
	}
}

func TestParseKind_Mismatch(t *testing.T) {
	if _, err := ids.ParseKind("CHARA0B1C2", ids.KindQuest); err == nil {
		t.Fatal("expected kind mismatch error")
	}
}

func TestParseAny_Shapes(t *testing.T) {
	cases := []struct {
		name string
		raw  any
		want string
	}{
		{"string", "SUMMA1B2C3", "SUMMA1B2C3"},
		{"value object", map[string]any{"value": "USERA1B2C3"}, "USERA1B2C3"},
		{"prefix and string number", map[string]any{"prefix": "QUES", "number": "A1B2C3"}, "QUESA1B2C3"},
		{"prefix and legacy number", map[string]any{"prefix": "QUES", "number": float64(42)}, "QUES000042"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := ids.ParseAny(tc.raw)
			if err != nil {
				t.Fatalf("ParseAny: %v", err)
			}
			if id.String() != tc.want {
				t.Fatalf("got %s want %s", id, tc.want)
			}
		})
	}

	if _, err := ids.ParseAny(float64(123456)); err == nil {
		t.Fatal("bare numeric payload should be rejected")
	}
}

func TestNew_GeneratesValidIDs(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := ids.NewQuest()
		if !id.Valid() || id.Legacy() {
			t.Fatalf("generated invalid id %q", id)
		}
		if id.Kind != ids.KindQuest {
			t.Fatalf("wrong kind %q", id.Kind)
		}
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	id := ids.ID{Kind: ids.KindCharacter, Body: "L0M9N8"}
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"value":"CHARL0M9N8"}` {
		t.Fatalf("unexpected document form: %s", b)
	}
	var back ids.ID
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != id {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
