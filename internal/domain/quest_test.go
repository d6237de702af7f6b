package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

var t0 = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func newAnnouncedQuest(t *testing.T) *domain.Quest {
	t.Helper()
	q := domain.NewQuest(1001, mustID(t, "USERA1B2C3"), t0)
	q.Title = "Expedition"
	q.StartingAt = t0.Add(24 * time.Hour)
	q.Duration = domain.Seconds(3 * time.Hour)
	if err := q.MarkAnnounced(domain.MessageRef{ChannelID: 55, MessageID: 77}, t0); err != nil {
		t.Fatalf("announce: %v", err)
	}
	return q
}

func mustID(t *testing.T, raw string) ids.ID {
	t.Helper()
	id, err := ids.Parse(raw)
	if err != nil {
		t.Fatalf("parse id %q: %v", raw, err)
	}
	return id
}

func TestQuest_LifecycleHappyPath(t *testing.T) {
	q := newAnnouncedQuest(t)
	if q.Status != domain.QuestAnnounced {
		t.Fatalf("status = %s", q.Status)
	}
	if !q.IsSignupOpen() {
		t.Fatal("signups should open on announce")
	}

	p1 := mustID(t, "USERD4E5F6")
	c1 := mustID(t, "CHARL0M9N8")
	if err := q.AddSignup(p1, c1); err != nil {
		t.Fatalf("add signup: %v", err)
	}
	if got := q.Signups[0]; got.Status != domain.SignupApplied {
		t.Fatalf("signup status = %s", got.Status)
	}

	if err := q.SelectSignup(p1); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := q.Signups[0]; got.Status != domain.SignupSelected {
		t.Fatalf("signup status after select = %s", got.Status)
	}

	if !q.CloseSignups() {
		t.Fatal("close should report change")
	}
	if q.CloseSignups() {
		t.Fatal("second close must be a no-op")
	}
	if q.IsSignupOpen() {
		t.Fatal("signups still open after close")
	}

	if err := q.Start(t0.Add(time.Hour)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if q.StartedAt == nil {
		t.Fatal("started_at not set")
	}
	if err := q.Complete(t0.Add(4 * time.Hour)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if q.EndedAt == nil {
		t.Fatal("ended_at not set")
	}
}

func TestQuest_TerminalStatesRejectTransitions(t *testing.T) {
	q := newAnnouncedQuest(t)
	if err := q.Complete(t0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := q.Start(t0); err == nil {
		t.Fatal("start after complete must fail")
	}
	if err := q.MarkAnnounced(domain.MessageRef{ChannelID: 1, MessageID: 2}, t0); err == nil {
		t.Fatal("announce after complete must fail")
	}
	if err := q.AddSignup(mustID(t, "USERD4E5F6"), mustID(t, "CHARL0M9N8")); err == nil {
		t.Fatal("add signup after complete must fail")
	}
}

func TestQuest_CancelIdempotent(t *testing.T) {
	q := newAnnouncedQuest(t)
	if err := q.Cancel(t0); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := q.Cancel(t0.Add(time.Minute)); err != nil {
		t.Fatalf("second cancel should be a no-op, got %v", err)
	}
	if q.Status != domain.QuestCancelled {
		t.Fatalf("status = %s", q.Status)
	}
}

func TestQuest_DuplicateSignupRejected(t *testing.T) {
	q := newAnnouncedQuest(t)
	p1 := mustID(t, "USERD4E5F6")
	if err := q.AddSignup(p1, mustID(t, "CHARL0M9N8")); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	err := q.AddSignup(p1, mustID(t, "CHARX1Y2Z3"))
	if !errors.Is(err, domain.ErrAlreadySignedUp) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if got := domain.UserMessage(err); got != "You already requested to join this quest." {
		t.Fatalf("canonical message mismatch: %q", got)
	}
	if len(q.Signups) != 1 {
		t.Fatalf("signups mutated on rejection: %d", len(q.Signups))
	}
}

func TestQuest_SelectAndRemoveRequireExistence(t *testing.T) {
	q := newAnnouncedQuest(t)
	ghost := mustID(t, "USERZ9Y8X7")
	if err := q.SelectSignup(ghost); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("select missing: %v", err)
	}
	if err := q.RemoveSignup(ghost); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("remove missing: %v", err)
	}
}

func TestQuest_PendingOrderPreserved(t *testing.T) {
	q := newAnnouncedQuest(t)
	users := []string{"USERA9B8C7", "USERD6E5F4", "USERG3H2I1"}
	for i, raw := range users {
		char := mustID(t, "CHARL0M9N8")
		if i > 0 {
			char = mustID(t, "CHARX1Y2Z3")
		}
		if err := q.AddSignup(mustID(t, raw), char); err != nil {
			t.Fatalf("signup %d: %v", i, err)
		}
	}
	if err := q.SelectSignup(mustID(t, users[1])); err != nil {
		t.Fatalf("select: %v", err)
	}
	pending := q.PendingSignups()
	if len(pending) != 2 {
		t.Fatalf("pending = %d", len(pending))
	}
	if pending[0].UserID != mustID(t, users[0]) || pending[1].UserID != mustID(t, users[2]) {
		t.Fatalf("pending order changed: %+v", pending)
	}
}

func TestQuest_NudgeCooldown(t *testing.T) {
	q := newAnnouncedQuest(t)

	if err := q.Nudge(t0); err != nil {
		t.Fatalf("first nudge: %v", err)
	}
	if q.LastNudgedAt == nil || !q.LastNudgedAt.Equal(t0) {
		t.Fatalf("last_nudged_at = %v", q.LastNudgedAt)
	}

	err := q.Nudge(t0.Add(47 * time.Hour))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected cooldown conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "1h") {
		t.Fatalf("cooldown message should carry remaining hours: %v", err)
	}

	if err := q.Nudge(t0.Add(48*time.Hour + time.Second)); err != nil {
		t.Fatalf("nudge after cooldown: %v", err)
	}
}

func TestQuest_NudgeRequiresPublication(t *testing.T) {
	q := domain.NewQuest(1001, mustID(t, "USERA1B2C3"), t0)
	if err := q.Nudge(t0); err == nil {
		t.Fatal("nudge of unpublished quest must fail")
	}
}

func TestQuest_ScheduleAnnounce(t *testing.T) {
	q := domain.NewQuest(1001, mustID(t, "USERA1B2C3"), t0)
	if err := q.ScheduleAnnounce(t0.Add(-time.Second), t0); err == nil {
		t.Fatal("past announce time must be rejected")
	}
	if err := q.ScheduleAnnounce(t0.Add(time.Hour), t0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if q.Status != domain.QuestDraft {
		t.Fatalf("scheduling must keep the quest in DRAFT, got %s", q.Status)
	}
	if q.AnnounceAt == nil || !q.AnnounceAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("announce_at = %v", q.AnnounceAt)
	}

	// Publication clears the deferred marker.
	if err := q.MarkAnnounced(domain.MessageRef{ChannelID: 9, MessageID: 10}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if q.AnnounceAt != nil {
		t.Fatal("announce_at should be cleared on publish")
	}
}
