package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codex-go/turnengine/internal/agent/toolorchestrator"
)

var (
	toolDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnengine_tool_decisions_total",
			Help: "Tool call approval decisions by tool, decision, and source.",
		},
		[]string{"tool", "decision", "source"},
	)
	toolFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnengine_tool_failures_total",
			Help: "Tool call failures by tool name.",
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(toolDecisionsTotal, toolFailuresTotal)
}

// ToolTelemetry implements toolorchestrator.Telemetry on top of the event
// recorder and a pair of prometheus counters, so every approval decision
// both lands in the replayable event timeline and is visible to scraped
// metrics.
type ToolTelemetry struct {
	recorder *EventRecorder
}

// NewToolTelemetry builds a ToolTelemetry backed by recorder. recorder may
// be nil, in which case events are dropped but metrics still record.
func NewToolTelemetry(recorder *EventRecorder) *ToolTelemetry {
	return &ToolTelemetry{recorder: recorder}
}

func (t *ToolTelemetry) ToolDecision(toolName, callID string, decision toolorchestrator.ReviewDecision, source toolorchestrator.DecisionSource) {
	toolDecisionsTotal.WithLabelValues(toolName, string(decision), string(source)).Inc()
	if t.recorder != nil {
		_ = t.recorder.RecordToolDecision(context.Background(), toolName, callID, string(decision), string(source))
	}
}

func (t *ToolTelemetry) ToolFailed(toolName, message string) {
	toolFailuresTotal.WithLabelValues(toolName).Inc()
	if t.recorder != nil {
		_ = t.recorder.RecordError(context.Background(), EventTypeToolError, toolName, errString(message), nil)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
