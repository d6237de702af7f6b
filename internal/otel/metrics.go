package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the coordination core's metric instruments.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	FlushDuration    metric.Float64Histogram
	FlushItems       metric.Int64Counter
	FlushErrors      metric.Int64Counter
	DirtyQueueDepth  metric.Int64UpDownCounter
	QuestsAnnounced  metric.Int64Counter
	SignupsApplied   metric.Int64Counter
	SignupsSelected  metric.Int64Counter
	WizardSessions   metric.Int64UpDownCounter
	APICallDuration  metric.Float64Histogram
	APICallErrors    metric.Int64Counter
	RateLimitRejects metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("nonagon.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushDuration, err = meter.Float64Histogram("nonagon.flush.duration",
		metric.WithDescription("Dirty-flush batch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushItems, err = meter.Int64Counter("nonagon.flush.items",
		metric.WithDescription("Total dirty entries persisted"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushErrors, err = meter.Int64Counter("nonagon.flush.errors",
		metric.WithDescription("Dirty entries that failed to persist"),
	)
	if err != nil {
		return nil, err
	}

	m.DirtyQueueDepth, err = meter.Int64UpDownCounter("nonagon.flush.queue_depth",
		metric.WithDescription("Current dirty queue depth"),
	)
	if err != nil {
		return nil, err
	}

	m.QuestsAnnounced, err = meter.Int64Counter("nonagon.quest.announced",
		metric.WithDescription("Quests published to the quest board"),
	)
	if err != nil {
		return nil, err
	}

	m.SignupsApplied, err = meter.Int64Counter("nonagon.signup.applied",
		metric.WithDescription("Sign-up applications received"),
	)
	if err != nil {
		return nil, err
	}

	m.SignupsSelected, err = meter.Int64Counter("nonagon.signup.selected",
		metric.WithDescription("Sign-ups promoted to the party"),
	)
	if err != nil {
		return nil, err
	}

	m.WizardSessions, err = meter.Int64UpDownCounter("nonagon.wizard.active",
		metric.WithDescription("Currently open DM wizard sessions"),
	)
	if err != nil {
		return nil, err
	}

	m.APICallDuration, err = meter.Float64Histogram("nonagon.api.duration",
		metric.WithDescription("External quest API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.APICallErrors, err = meter.Int64Counter("nonagon.api.errors",
		metric.WithDescription("External quest API call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("nonagon.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
