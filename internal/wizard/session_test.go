package wizard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
)

// fakeConv records DMs and edits, with switchable edit failure.
type fakeConv struct {
	mu        sync.Mutex
	dms       []string
	edits     []string
	nextID    int64
	editFails bool
}

func (f *fakeConv) SendDM(_ context.Context, _ int64, text string) (domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, text)
	f.nextID++
	return domain.MessageRef{ChannelID: 1, MessageID: f.nextID}, nil
}

func (f *fakeConv) EditMessage(_ context.Context, _ domain.MessageRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editFails {
		return errors.New("message too old to edit")
	}
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeConv) lastDM() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dms) == 0 {
		return ""
	}
	return f.dms[len(f.dms)-1]
}

// capture records what OnSubmit saw.
type capture struct {
	mu      sync.Mutex
	answers map[string]string
	err     error
}

func (c *capture) submit(_ context.Context, _, _ int64, answers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.answers = make(map[string]string, len(answers))
	for k, v := range answers {
		c.answers[k] = v
	}
	return nil
}

func testDefinition(c *capture, timeout time.Duration) Definition {
	return Definition{
		Kind:    "test",
		Timeout: timeout,
		Steps: []Step{
			{Name: "name", Prompt: "Name?", Required: true, Parse: ParseBoundedName(2, 64)},
			{Name: "note", Prompt: "Note?", Parse: ParseBoundedText(100)},
		},
		Preview: func(answers map[string]string) string {
			return "preview name=" + answers["name"] + " note=" + answers["note"]
		},
		OnSubmit: c.submit,
	}
}

func open(t *testing.T, m *Manager, def Definition) *Session {
	t.Helper()
	s, err := m.Open(context.Background(), def, 1001, 42)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

// reply waits briefly for the session to be awaiting input, then feeds it.
func reply(t *testing.T, m *Manager, text string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if m.HandleReply(42, text) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("no session accepting replies")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitDone(t *testing.T, s *Session) Outcome {
	t.Helper()
	select {
	case <-s.Done():
		return s.Outcome()
	case <-time.After(3 * time.Second):
		t.Fatal("session did not resolve")
		return ""
	}
}

func TestSession_SubmitHappyPath(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, time.Second))

	reply(t, m, "Mirelle")
	reply(t, m, "A cartographer.")
	if got := waitDone(t, s); got != OutcomeSubmitted {
		t.Fatalf("outcome = %s", got)
	}
	if c.answers["name"] != "Mirelle" || c.answers["note"] != "A cartographer." {
		t.Fatalf("submitted answers = %v", c.answers)
	}
	if m.ActiveCount() != 0 {
		t.Fatal("slot not released")
	}
}

func TestSession_SecondOpenRejected(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, time.Second))

	if _, err := m.Open(context.Background(), testDefinition(c, time.Second), 1001, 42); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	reply(t, m, "cancel")
	waitDone(t, s)

	// The slot is free again.
	s2 := open(t, m, testDefinition(c, time.Second))
	reply(t, m, "cancel")
	waitDone(t, s2)
}

func TestSession_CancelKeyword(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, time.Second))

	reply(t, m, "Cancel")
	if got := waitDone(t, s); got != OutcomeCancelled {
		t.Fatalf("outcome = %s", got)
	}
	if c.answers != nil {
		t.Fatal("cancelled session must not submit")
	}
}

func TestSession_SkipRequiredRejected(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, time.Second))

	reply(t, m, "skip")
	// The session re-asks; answer properly, then skip the optional step.
	reply(t, m, "Mirelle")
	reply(t, m, "skip")
	if got := waitDone(t, s); got != OutcomeSubmitted {
		t.Fatalf("outcome = %s", got)
	}
	if _, ok := c.answers["note"]; ok {
		t.Fatalf("skipped field present: %v", c.answers)
	}
}

func TestSession_ParseErrorReasks(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, time.Second))

	reply(t, m, "X") // too short for ParseBoundedName(2, 64)
	reply(t, m, "Mirelle")
	reply(t, m, "skip")
	if got := waitDone(t, s); got != OutcomeSubmitted {
		t.Fatalf("outcome = %s", got)
	}

	var sawError bool
	for _, dm := range conv.dms {
		if strings.Contains(dm, "must be 2-64 characters") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("parse error never shown: %v", conv.dms)
	}
}

func TestSession_Timeout(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, 50*time.Millisecond))

	if got := waitDone(t, s); got != OutcomeTimeout {
		t.Fatalf("outcome = %s", got)
	}
	if c.answers != nil {
		t.Fatal("timed-out session must not submit")
	}
	if m.ActiveCount() != 0 {
		t.Fatal("slot not released after timeout")
	}
}

func TestSession_PreviewEditedPerAnswer(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, time.Second))

	reply(t, m, "Mirelle")
	reply(t, m, "skip")
	waitDone(t, s)

	if len(conv.edits) != 1 || !strings.Contains(conv.edits[0], "name=Mirelle") {
		t.Fatalf("preview edits = %v", conv.edits)
	}
}

func TestSession_PreviewResentWhenEditFails(t *testing.T) {
	conv := &fakeConv{editFails: true}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, time.Second))

	reply(t, m, "Mirelle")
	reply(t, m, "skip")
	waitDone(t, s)

	var resent bool
	for _, dm := range conv.dms {
		if strings.Contains(dm, "name=Mirelle") {
			resent = true
		}
	}
	if !resent {
		t.Fatalf("preview never resent: %v", conv.dms)
	}
}

func TestSession_ClearResetsAnswer(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{}
	s := open(t, m, testDefinition(c, time.Second))

	reply(t, m, "Mirelle")
	// Second question: clear has nothing to remove but re-asks.
	reply(t, m, "clear")
	reply(t, m, "A cartographer.")
	if got := waitDone(t, s); got != OutcomeSubmitted {
		t.Fatalf("outcome = %s", got)
	}
	if c.answers["note"] != "A cartographer." {
		t.Fatalf("answers = %v", c.answers)
	}
}

func TestSession_SubmitErrorSurfacesAndReleases(t *testing.T) {
	conv := &fakeConv{}
	m := NewManager(conv, nil, nil, nil)
	c := &capture{err: domain.Validationf("a quest needs a title")}
	s := open(t, m, testDefinition(c, time.Second))

	reply(t, m, "Mirelle")
	reply(t, m, "skip")
	if got := waitDone(t, s); got != OutcomeCancelled {
		t.Fatalf("outcome = %s", got)
	}
	if !strings.Contains(conv.lastDM(), "a quest needs a title") {
		t.Fatalf("submit error not shown: %q", conv.lastDM())
	}
	if m.ActiveCount() != 0 {
		t.Fatal("slot not released after submit failure")
	}
}
