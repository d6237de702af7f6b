package wizard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/quests"
)

func TestParseEpochSeconds(t *testing.T) {
	future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	got, err := ParseEpochSeconds(" " + future + " ")
	if err != nil || got != future {
		t.Fatalf("future epoch: %q, %v", got, err)
	}

	// The unix epoch itself is a valid instant.
	if got, err := ParseEpochSeconds("0"); err != nil || got != "0" {
		t.Fatalf("epoch zero: %q, %v", got, err)
	}
	if _, err := ParseEpochSeconds("-1"); err == nil {
		t.Fatal("signed value accepted")
	}
	if _, err := ParseEpochSeconds("+5"); err == nil {
		t.Fatal("signed value accepted")
	}
	if _, err := ParseEpochSeconds("next tuesday"); err == nil {
		t.Fatal("prose accepted")
	}
}

func TestParsePositiveHours(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"3", "3", true},
		{"2.5", "2.5", true},
		{" 4 ", "4", true},
		{"0", "", false},
		{"-1", "", false},
		{"three", "", false},
	}
	for _, tc := range cases {
		got, err := ParsePositiveHours(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParsePositiveHours(%q) = %q, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParsePositiveHours(%q) accepted", tc.in)
		}
	}
}

func TestParseCSVMax(t *testing.T) {
	parse := ParseCSVMax(3)
	got, err := parse(" a, b ,, c ")
	if err != nil || got != "a,b,c" {
		t.Fatalf("csv = %q, %v", got, err)
	}
	if _, err := parse("a,b,c,d"); err == nil {
		t.Fatal("over-cap list accepted")
	}
}

func TestParseSheetURL(t *testing.T) {
	if _, err := ParseSheetURL("https://www.dndbeyond.com/characters/1"); err != nil {
		t.Fatalf("recognised sheet rejected: %v", err)
	}
	if _, err := ParseSheetURL("https://example.com/sheet"); err == nil {
		t.Fatal("unrecognised sheet accepted")
	}
	if _, err := ParseSheetURL("ftp://dndbeyond.com/x"); err == nil {
		t.Fatal("non-http scheme accepted")
	}
}

func TestParseBoundedText(t *testing.T) {
	parse := ParseBoundedText(10)
	if _, err := parse(strings.Repeat("x", 11)); err == nil {
		t.Fatal("overlong text accepted")
	}
	if _, err := parse("   "); err == nil {
		t.Fatal("blank text accepted")
	}
	if got, err := parse(" hi "); err != nil || got != "hi" {
		t.Fatalf("trim: %q, %v", got, err)
	}
}

// draftCapture records the DraftInput the quest wizard submits.
type draftCapture struct {
	in quests.DraftInput
}

func (d *draftCapture) CreateDraft(_ context.Context, _, _ int64, in quests.DraftInput) (*domain.Quest, error) {
	d.in = in
	return nil, nil
}

func TestQuestSubmit_ConvertsAnswers(t *testing.T) {
	start := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	d := &draftCapture{}
	def := QuestDefinition(d, time.Minute)

	err := def.OnSubmit(context.Background(), 1001, 42, map[string]string{
		"title":    "Tomb Run",
		"start":    fmt.Sprintf("%d", start.Unix()),
		"duration": "2.5",
		"tags":     "dungeon,heist",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.in.Title != "Tomb Run" {
		t.Fatalf("title = %q", d.in.Title)
	}
	if !d.in.StartingAt.Equal(start.UTC()) {
		t.Fatalf("starting at = %v, want %v", d.in.StartingAt, start.UTC())
	}
	if d.in.Duration != 150*time.Minute {
		t.Fatalf("duration = %v", d.in.Duration)
	}
	if len(d.in.Tags) != 2 || d.in.Tags[0] != "dungeon" {
		t.Fatalf("tags = %v", d.in.Tags)
	}
}

func TestQuestPreview_MarksUnsetFields(t *testing.T) {
	text := questPreview(map[string]string{"title": "Tomb Run"})
	if !strings.Contains(text, "Title: Tomb Run") {
		t.Fatalf("preview = %q", text)
	}
	if !strings.Contains(text, "Duration: (not set)") {
		t.Fatalf("preview = %q", text)
	}
}
