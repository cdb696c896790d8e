package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agentflow/internal/domain"
)

var serverStatuses = []domain.ServerStatus{
	domain.ServerStatusUnknown,
	domain.ServerStatusConnected,
	domain.ServerStatusError,
}

type PrometheusMetrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	stageDuration  *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	approvalWait   *prometheus.HistogramVec
	modelLatency   *prometheus.HistogramVec
	modelTokens    *prometheus.CounterVec
	enabledServers prometheus.Gauge
	serverStatus   *prometheus.GaugeVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_runs_total",
				Help: "Total number of finished pipeline runs",
			},
			[]string{"flow", "status", "code"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_run_duration_seconds",
				Help:    "Duration of pipeline runs in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"flow", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_stage_duration_seconds",
				Help:    "Time spent in a pipeline stage in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"flow", "kind", "status"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_tool_calls_total",
				Help: "Total number of tool invocations by outcome",
			},
			[]string{"server", "tool", "outcome"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_tool_call_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"server", "tool"},
		),
		approvalWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_approval_wait_seconds",
				Help:    "Time a gated tool call waited for a verdict",
				Buckets: []float64{.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"verdict"},
		),
		modelLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_model_latency_seconds",
				Help:    "Latency of model completions in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "model", "status"},
		),
		modelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_model_tokens_total",
				Help: "Total number of tokens consumed by model completions",
			},
			[]string{"provider", "model"},
		),
		enabledServers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentflow_enabled_tool_servers",
				Help: "Number of tool servers offered to runs",
			},
		),
		serverStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentflow_tool_server_status",
				Help: "Last known tool server status, 1 for the current status",
			},
			[]string{"server", "status"},
		),
	}
}

func (p *PrometheusMetrics) ObserveRun(metric domain.RunMetric) {
	p.runsTotal.WithLabelValues(metric.Flow, string(metric.Status), string(metric.FailureCode)).Inc()
	p.runDuration.WithLabelValues(metric.Flow, string(metric.Status)).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveStage(metric domain.StageMetric) {
	p.stageDuration.WithLabelValues(metric.Flow, string(metric.Kind), string(metric.Status)).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveToolCall(metric domain.ToolCallMetric) {
	p.toolCalls.WithLabelValues(metric.ServerID, metric.Tool, string(metric.Outcome)).Inc()
	if metric.Duration > 0 {
		p.toolDuration.WithLabelValues(metric.ServerID, metric.Tool).Observe(metric.Duration.Seconds())
	}
}

func (p *PrometheusMetrics) ObserveApprovalWait(verdict domain.ApprovalVerdict, duration time.Duration) {
	p.approvalWait.WithLabelValues(string(verdict)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveModelLatency(provider string, model string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.modelLatency.WithLabelValues(provider, model, status).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveModelTokens(provider string, model string, tokens int) {
	p.modelTokens.WithLabelValues(provider, model).Add(float64(tokens))
}

func (p *PrometheusMetrics) SetEnabledServers(count int) {
	p.enabledServers.Set(float64(count))
}

func (p *PrometheusMetrics) SetServerStatus(serverID string, status domain.ServerStatus) {
	for _, candidate := range serverStatuses {
		value := 0.0
		if candidate == status {
			value = 1
		}
		p.serverStatus.WithLabelValues(serverID, string(candidate)).Set(value)
	}
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
