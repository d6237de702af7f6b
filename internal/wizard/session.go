// Package wizard runs DM-driven interactive forms: one session per author,
// a live preview message the session keeps editing, free-text questions
// with cancel/skip/clear keywords, and per-question timeouts. A session
// persists nothing until every required field is answered and the member
// submits.
package wizard

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/piyushsatti/nonagon/internal/bus"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/otel"
	"github.com/piyushsatti/nonagon/internal/shared"
)

// Conversations is the DM surface a session talks through.
type Conversations interface {
	SendDM(ctx context.Context, discordID int64, text string) (domain.MessageRef, error)
	EditMessage(ctx context.Context, ref domain.MessageRef, text string) error
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimeout   Outcome = "timeout"
)

// Control keywords, matched case-insensitively against a whole reply.
const (
	kwCancel = "cancel"
	kwSkip   = "skip"
	kwClear  = "clear"
)

// Step is one question in a wizard.
type Step struct {
	Name     string
	Prompt   string
	Required bool
	Parse    func(string) (string, error)
}

// Definition describes a wizard kind: its questions, its preview renderer
// and what submission does. OnSubmit sees the full answer sheet exactly
// once; it is never called with required fields missing.
type Definition struct {
	Kind     string
	Steps    []Step
	Timeout  time.Duration // per question
	Preview  func(answers map[string]string) string
	OnSubmit func(ctx context.Context, guildID, authorID int64, answers map[string]string) error
}

// Session is one member's in-flight wizard.
type Session struct {
	ID       string
	GuildID  int64
	AuthorID int64

	def     Definition
	answers map[string]string
	preview domain.MessageRef
	input   chan string

	mu      sync.Mutex
	outcome Outcome
	done    chan struct{}
}

// Done closes when the session resolves.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome is valid after Done closes.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Manager gates one active session per author and routes their DM replies.
type Manager struct {
	conv    Conversations
	logger  *slog.Logger
	bus     *bus.Bus
	metrics *otel.Metrics

	mu     sync.Mutex
	active map[int64]*Session
}

func NewManager(conv Conversations, logger *slog.Logger, b *bus.Bus, metrics *otel.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conv:    conv,
		logger:  logger,
		bus:     b,
		metrics: metrics,
		active:  make(map[int64]*Session),
	}
}

// Open starts a session for the author. A second open while one is running
// is rejected; the member finishes or cancels the first.
func (m *Manager) Open(ctx context.Context, def Definition, guildID, authorID int64) (*Session, error) {
	m.mu.Lock()
	if _, busy := m.active[authorID]; busy {
		m.mu.Unlock()
		return nil, domain.Conflictf("you already have an open %s form; finish or cancel it first", def.Kind)
	}
	s := &Session{
		ID:       shared.NewSessionID(),
		GuildID:  guildID,
		AuthorID: authorID,
		def:      def,
		answers:  make(map[string]string),
		input:    make(chan string, 4),
		done:     make(chan struct{}),
	}
	m.active[authorID] = s
	m.mu.Unlock()

	ref, err := m.conv.SendDM(ctx, authorID, def.Preview(s.answers))
	if err != nil {
		m.release(s)
		return nil, domain.Conflictf("could not open a DM with you; check your privacy settings")
	}
	s.preview = ref

	if m.metrics != nil {
		m.metrics.WizardSessions.Add(ctx, 1)
	}
	m.publish(bus.TopicWizardOpened, s, "opened")
	m.logger.Info("wizard opened",
		"session_id", s.ID, "kind", def.Kind,
		"guild_id", guildID, "author_id", authorID)

	go m.run(s)
	return s, nil
}

// HandleReply routes a DM reply to the author's session. It reports whether
// a session consumed the reply.
func (m *Manager) HandleReply(authorID int64, text string) bool {
	m.mu.Lock()
	s, ok := m.active[authorID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case s.input <- text:
	default:
		// The session is mid-processing; an extra reply is dropped rather
		// than queued against a stale question.
	}
	return true
}

// ActiveCount returns the number of open sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	delete(m.active, s.AuthorID)
	m.mu.Unlock()
}

func (m *Manager) resolve(ctx context.Context, s *Session, outcome Outcome) {
	s.mu.Lock()
	s.outcome = outcome
	s.mu.Unlock()
	m.release(s)
	if m.metrics != nil {
		m.metrics.WizardSessions.Add(ctx, -1)
	}
	m.publish(bus.TopicWizardResolved, s, string(outcome))
	m.logger.Info("wizard resolved",
		"session_id", s.ID, "kind", s.def.Kind, "outcome", string(outcome))
	close(s.done)
}

func (m *Manager) publish(topic string, s *Session, outcome string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, bus.WizardEvent{
		SessionID: s.ID,
		AuthorID:  s.AuthorID,
		Kind:      s.def.Kind,
		Outcome:   outcome,
	})
}

// say DMs the member, best effort.
func (m *Manager) say(ctx context.Context, s *Session, text string) {
	if _, err := m.conv.SendDM(ctx, s.AuthorID, text); err != nil {
		m.logger.Warn("wizard dm failed", "session_id", s.ID, "error", err)
	}
}

// refreshPreview re-renders the preview in place; when the edit fails the
// preview is re-sent as a fresh message and the session follows that one.
func (m *Manager) refreshPreview(ctx context.Context, s *Session) {
	text := s.def.Preview(s.answers)
	if err := m.conv.EditMessage(ctx, s.preview, text); err == nil {
		return
	}
	ref, err := m.conv.SendDM(ctx, s.AuthorID, text)
	if err != nil {
		m.logger.Warn("wizard preview resend failed", "session_id", s.ID, "error", err)
		return
	}
	s.preview = ref
}

// run walks the member through every step, then submits.
func (m *Manager) run(s *Session) {
	ctx := context.Background()
	timeout := s.def.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	for i := 0; i < len(s.def.Steps); i++ {
		step := s.def.Steps[i]
		m.say(ctx, s, step.Prompt)

	await:
		for {
			timer := time.NewTimer(timeout)
			select {
			case <-timer.C:
				m.say(ctx, s, "This form timed out. Nothing was saved.")
				m.resolve(ctx, s, OutcomeTimeout)
				return
			case raw := <-s.input:
				timer.Stop()
				switch strings.ToLower(strings.TrimSpace(raw)) {
				case kwCancel:
					m.say(ctx, s, "Cancelled. Nothing was saved.")
					m.resolve(ctx, s, OutcomeCancelled)
					return
				case kwSkip:
					if step.Required {
						m.say(ctx, s, "That one is required and cannot be skipped.")
						continue await
					}
					break await
				case kwClear:
					delete(s.answers, step.Name)
					m.refreshPreview(ctx, s)
					m.say(ctx, s, "Cleared. "+step.Prompt)
					continue await
				default:
					value, err := step.Parse(raw)
					if err != nil {
						m.say(ctx, s, domain.UserMessage(err))
						continue await
					}
					s.answers[step.Name] = value
					m.refreshPreview(ctx, s)
					break await
				}
			}
		}
	}

	if err := s.def.OnSubmit(ctx, s.GuildID, s.AuthorID, s.answers); err != nil {
		m.say(ctx, s, domain.UserMessage(err))
		m.resolve(ctx, s, OutcomeCancelled)
		return
	}
	m.say(ctx, s, "Done. Your "+s.def.Kind+" has been saved.")
	m.resolve(ctx, s, OutcomeSubmitted)
}
