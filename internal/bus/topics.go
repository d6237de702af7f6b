package bus

// Quest lifecycle topics.
const (
	TopicQuestAnnounced = "quest.announced"
	TopicQuestStarted   = "quest.started"
	TopicQuestCompleted = "quest.completed"
	TopicQuestCancelled = "quest.cancelled"
	TopicQuestNudged    = "quest.nudged"
)

// Sign-up adjudication topics.
const (
	TopicSignupApplied  = "signup.applied"
	TopicSignupSelected = "signup.selected"
	TopicSignupRemoved  = "signup.removed"
	TopicSignupsClosed  = "signup.closed"
)

// Dirty-flush topics.
const (
	TopicFlushBatch = "flush.batch"
)

// Wizard session topics.
const (
	TopicWizardOpened   = "wizard.opened"
	TopicWizardResolved = "wizard.resolved"
)

// QuestEvent is published on quest lifecycle transitions.
type QuestEvent struct {
	GuildID   int64  // Tenant
	QuestID   string // Postal quest ID
	RefereeID string // Postal user ID of the host
	Status    string // New lifecycle status
}

// SignupEvent is published on sign-up adjudication actions.
type SignupEvent struct {
	GuildID     int64
	QuestID     string
	UserID      string // Postal user ID of the player
	CharacterID string // Postal character ID, empty for close events
	Status      string // APPLIED, SELECTED, or "" for removals
}

// FlushBatchEvent is published after each dirty-flush batch completes.
type FlushBatchEvent struct {
	Batch      int   // Entries persisted in this batch
	Errors     int   // Entries that failed
	QueueDepth int   // Dirty queue size after the drain
	DurationMS int64 // Wall time of the batch
}

// WizardEvent is published when a DM wizard session opens or resolves.
type WizardEvent struct {
	SessionID string // Session UUID
	AuthorID  int64  // External (chat platform) author ID
	Kind      string // "quest" or "character"
	Outcome   string // "opened", "submitted", "cancelled", "timeout"
}
