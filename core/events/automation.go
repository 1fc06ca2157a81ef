package events

const (
	// TypePipelineStageChanged is emitted whenever a transaction pipeline
	// advances to a new stage.
	TypePipelineStageChanged = "pipeline.stageChanged"
	// TypePipelineTxStatusChanged is emitted whenever the transaction status
	// within a pipeline stage changes.
	TypePipelineTxStatusChanged = "pipeline.txStatusChanged"
	// TypePipelineFailed is emitted when a pipeline reaches a terminal
	// failure, carrying the reason recorded on the state.
	TypePipelineFailed = "pipeline.failed"
	// TypeTriggerUpdated is emitted when an automation trigger configuration
	// is patched on a live pipeline.
	TypeTriggerUpdated = "automation.triggerUpdated"
)

// PipelineStageChanged captures a pipeline moving between stages.
type PipelineStageChanged struct {
	PipelineID string
	Market     string
	From       string
	To         string
}

// EventType implements the Event interface.
func (PipelineStageChanged) EventType() string { return TypePipelineStageChanged }

// PipelineTxStatusChanged captures the transaction sub-machine moving between
// statuses inside a stage.
type PipelineTxStatusChanged struct {
	PipelineID string
	Market     string
	Stage      string
	From       string
	To         string
	TxHash     string
}

// EventType implements the Event interface.
func (PipelineTxStatusChanged) EventType() string { return TypePipelineTxStatusChanged }

// PipelineFailed captures a pipeline entering a terminal failure.
type PipelineFailed struct {
	PipelineID string
	Market     string
	Stage      string
	Reason     string
}

// EventType implements the Event interface.
func (PipelineFailed) EventType() string { return TypePipelineFailed }

// TriggerUpdated captures an automation trigger patch applied to a pipeline.
type TriggerUpdated struct {
	PipelineID string
	Market     string
	Trigger    string
}

// EventType implements the Event interface.
func (TriggerUpdated) EventType() string { return TypeTriggerUpdated }
