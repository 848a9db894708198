package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the dashboard server's metric instruments.
type Metrics struct {
	RequestDuration metric.Float64Histogram
	EngineConflicts metric.Int64Counter
	RefreshSignals  metric.Int64Counter
	ActiveStreams   metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("crewctl.request.duration",
		metric.WithDescription("Dashboard request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.EngineConflicts, err = meter.Int64Counter("crewctl.engine.conflicts",
		metric.WithDescription("Engine operations rejected with a domain conflict"),
	)
	if err != nil {
		return nil, err
	}

	m.RefreshSignals, err = meter.Int64Counter("crewctl.board.refresh_signals",
		metric.WithDescription("Refresh signals published to streaming consumers"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveStreams, err = meter.Int64UpDownCounter("crewctl.board.active_streams",
		metric.WithDescription("Currently connected heartbeat/notify consumers"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
