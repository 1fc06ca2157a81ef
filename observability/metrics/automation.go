package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AutomationMetrics tracks the trigger engine and the transaction pipelines.
type AutomationMetrics struct {
	stageTransitions    *prometheus.CounterVec
	txStatusTransitions *prometheus.CounterVec
	pipelineFailures    *prometheus.CounterVec
	triggerPatches      *prometheus.CounterVec
	validationFailures  *prometheus.CounterVec
	metadataBuilds      *prometheus.CounterVec
	activePipelines     prometheus.Gauge
}

var (
	automationOnce     sync.Once
	automationRegistry *AutomationMetrics
)

// Automation returns the process-wide automation metrics, registering them on
// first use.
func Automation() *AutomationMetrics {
	automationOnce.Do(func() {
		automationRegistry = &AutomationMetrics{
			stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pipeline_stage_transitions_total",
				Help: "Count of pipeline stage transitions by destination stage.",
			}, []string{"stage"}),
			txStatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pipeline_tx_status_transitions_total",
				Help: "Count of transaction status transitions by destination status.",
			}, []string{"status"}),
			pipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pipeline_failures_total",
				Help: "Count of terminal pipeline failures by stage.",
			}, []string{"stage"}),
			triggerPatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "automation_trigger_patches_total",
				Help: "Count of trigger configuration patches by trigger type.",
			}, []string{"trigger"}),
			validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "automation_validation_failures_total",
				Help: "Count of fired validation rules by kind.",
			}, []string{"kind"}),
			metadataBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "automation_metadata_builds_total",
				Help: "Count of trigger metadata descriptors built by protocol.",
			}, []string{"protocol"}),
			activePipelines: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "pipeline_active",
				Help: "Number of pipelines currently running.",
			}),
		}
		prometheus.MustRegister(
			automationRegistry.stageTransitions,
			automationRegistry.txStatusTransitions,
			automationRegistry.pipelineFailures,
			automationRegistry.triggerPatches,
			automationRegistry.validationFailures,
			automationRegistry.metadataBuilds,
			automationRegistry.activePipelines,
		)
	})
	return automationRegistry
}

func (m *AutomationMetrics) ObserveStageTransition(stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	m.stageTransitions.WithLabelValues(stage).Inc()
}

func (m *AutomationMetrics) ObserveTxStatusTransition(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.txStatusTransitions.WithLabelValues(status).Inc()
}

func (m *AutomationMetrics) ObservePipelineFailure(stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	m.pipelineFailures.WithLabelValues(stage).Inc()
}

func (m *AutomationMetrics) ObserveTriggerPatch(trigger string) {
	if m == nil {
		return
	}
	if trigger == "" {
		trigger = "unknown"
	}
	m.triggerPatches.WithLabelValues(trigger).Inc()
}

func (m *AutomationMetrics) ObserveValidationFailure(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.validationFailures.WithLabelValues(kind).Inc()
}

func (m *AutomationMetrics) ObserveMetadataBuild(protocol string) {
	if m == nil {
		return
	}
	if protocol == "" {
		protocol = "unknown"
	}
	m.metadataBuilds.WithLabelValues(protocol).Inc()
}

func (m *AutomationMetrics) PipelineStarted() {
	if m == nil {
		return
	}
	m.activePipelines.Inc()
}

func (m *AutomationMetrics) PipelineStopped() {
	if m == nil {
		return
	}
	m.activePipelines.Dec()
}
