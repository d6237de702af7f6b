package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/guildcache"
	"github.com/piyushsatti/nonagon/internal/ids"
	"github.com/piyushsatti/nonagon/internal/settings"
)

var t0 = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeDue struct {
	mu     sync.Mutex
	quests []*domain.Quest
	err    error
}

func (f *fakeDue) DueAnnouncements(context.Context, time.Time) ([]*domain.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quests, f.err
}

type fakePublisher struct {
	mu        sync.Mutex
	published []ids.ID
	failOn    ids.ID
}

func (f *fakePublisher) PublishScheduled(_ context.Context, q *domain.Quest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.QuestID == f.failOn {
		return errors.New("board unreachable")
	}
	f.published = append(f.published, q.QuestID)
	return nil
}

func scheduledQuest(t *testing.T, guildID int64) *domain.Quest {
	t.Helper()
	q := domain.NewQuest(guildID, ids.NewUser(), t0)
	q.Title = "Tomb Run"
	at := t0.Add(time.Hour)
	q.AnnounceAt = &at
	return q
}

func TestAnnouncerTick_PublishesDueQuests(t *testing.T) {
	q1 := scheduledQuest(t, 1001)
	q2 := scheduledQuest(t, 1001)
	pub := &fakePublisher{}
	a := NewAnnouncer(AnnouncerConfig{
		Store:  &fakeDue{quests: []*domain.Quest{q1, q2}},
		Quests: pub,
	})

	a.tick(context.Background())
	if len(pub.published) != 2 {
		t.Fatalf("published %d quests, want 2", len(pub.published))
	}
}

func TestAnnouncerTick_IsolatesPerQuestFailure(t *testing.T) {
	q1 := scheduledQuest(t, 1001)
	q2 := scheduledQuest(t, 1001)
	pub := &fakePublisher{failOn: q1.QuestID}
	a := NewAnnouncer(AnnouncerConfig{
		Store:  &fakeDue{quests: []*domain.Quest{q1, q2}},
		Quests: pub,
	})

	a.tick(context.Background())
	if len(pub.published) != 1 || pub.published[0] != q2.QuestID {
		t.Fatalf("published = %v, want only %s", pub.published, q2.QuestID)
	}
}

func TestAnnouncerTick_QueryErrorSkipsBatch(t *testing.T) {
	pub := &fakePublisher{}
	a := NewAnnouncer(AnnouncerConfig{
		Store:  &fakeDue{err: errors.New("db locked")},
		Quests: pub,
	})
	a.tick(context.Background())
	if len(pub.published) != 0 {
		t.Fatalf("published = %v on query error", pub.published)
	}
}

func TestAnnouncer_StartStop(t *testing.T) {
	a := NewAnnouncer(AnnouncerConfig{
		Store:    &fakeDue{},
		Quests:   &fakePublisher{},
		Interval: 50 * time.Millisecond,
	})
	a.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	a.Stop()
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2030, 1, 1, 8, 30, 0, 0, time.UTC)
	next, err := NextRunTime("0 9 * * *", after)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	want := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := NextRunTime("not a cron expr", after); err == nil {
		t.Fatal("expected parse error")
	}
}

type lookupStub struct {
	docs map[int64]json.RawMessage
}

func (l *lookupStub) GetLookup(_ context.Context, guildID int64, _ string) (json.RawMessage, error) {
	doc, ok := l.docs[guildID]
	if !ok {
		return nil, domain.NotFoundf("no settings for guild %d", guildID)
	}
	return doc, nil
}

func (l *lookupStub) SetLookup(_ context.Context, guildID int64, _ string, doc json.RawMessage) error {
	l.docs[guildID] = doc
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (f *fakeSender) SendMessage(_ context.Context, channelID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[int64][]string)
	}
	f.sent[channelID] = append(f.sent[channelID], text)
	return nil
}

func TestNewDigest_RejectsBadSchedule(t *testing.T) {
	_, err := NewDigest(DigestConfig{Schedule: "every tuesday"})
	if err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestDigestRunOnce(t *testing.T) {
	cache := guildcache.New(nil)
	cache.RecordMessage(1001, 42, t0)
	cache.RecordMessage(1001, 42, t0.Add(time.Minute))
	cache.RecordMessage(1001, 43, t0)
	cache.EnsureGuildEntry(2002)
	cache.RecordMessage(2002, 50, t0)

	lookup := &lookupStub{docs: map[int64]json.RawMessage{
		1001: json.RawMessage(`{"digest_enabled": true, "digest_channel_id": 777}`),
		// Guild 2002 never opted in.
	}}
	st, err := settings.NewService(lookup)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	sender := &fakeSender{}
	d, err := NewDigest(DigestConfig{
		Cache:    cache,
		Settings: st,
		Sender:   sender,
		Schedule: "0 9 * * *",
	})
	if err != nil {
		t.Fatalf("new digest: %v", err)
	}

	d.RunOnce(context.Background())

	msgs := sender.sent[777]
	if len(msgs) != 1 {
		t.Fatalf("digest messages = %v", msgs)
	}
	if !strings.Contains(msgs[0], "Members: 2") || !strings.Contains(msgs[0], "Messages: 3") {
		t.Fatalf("digest body = %q", msgs[0])
	}
	if len(sender.sent) != 1 {
		t.Fatalf("unexpected sends: %v", sender.sent)
	}
}
