package telemetry

import (
	"time"

	"agentflow/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveRun(_ domain.RunMetric) {}

func (n *NoopMetrics) ObserveStage(_ domain.StageMetric) {}

func (n *NoopMetrics) ObserveToolCall(_ domain.ToolCallMetric) {}

func (n *NoopMetrics) ObserveApprovalWait(_ domain.ApprovalVerdict, _ time.Duration) {}

func (n *NoopMetrics) ObserveModelLatency(_ string, _ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveModelTokens(_ string, _ string, _ int) {}

func (n *NoopMetrics) SetEnabledServers(_ int) {}

func (n *NoopMetrics) SetServerStatus(_ string, _ domain.ServerStatus) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
