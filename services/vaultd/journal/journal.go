package journal

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"vaultguard/native/pipeline"
)

// PipelineTransition records one observed pipeline state change.
type PipelineTransition struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	PipelineID    string    `gorm:"size:64;index"`
	Market        string    `gorm:"size:32;index"`
	Stage         string    `gorm:"size:48"`
	TxStatus      string    `gorm:"size:48"`
	TxHash        string    `gorm:"size:80"`
	FailureReason string    `gorm:"size:512"`
	CreatedAt     time.Time
}

// TriggerChange records an applied trigger patch.
type TriggerChange struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	PipelineID string    `gorm:"size:64;index"`
	Market     string    `gorm:"size:32;index"`
	Trigger    string    `gorm:"size:32"`
	CreatedAt  time.Time
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&PipelineTransition{}, &TriggerChange{})
}

// Journal persists pipeline history to sqlite.
type Journal struct {
	db *gorm.DB
}

// Open opens (or creates) the journal database at path and migrates the
// schema. Use "file::memory:?cache=shared" for an in-memory journal.
func Open(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// NewWithDB wraps an already-open gorm handle. The caller owns migration.
func NewWithDB(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

// RecordTransition appends one pipeline state observation.
func (j *Journal) RecordTransition(state pipeline.State) error {
	if j == nil || j.db == nil {
		return nil
	}
	row := PipelineTransition{
		ID:            uuid.New(),
		PipelineID:    state.PipelineID,
		Market:        state.Market,
		Stage:         state.Stage.String(),
		TxStatus:      state.TxStatus.String(),
		TxHash:        state.TxHash.Hex(),
		FailureReason: state.FailureReason,
	}
	if err := j.db.Create(&row).Error; err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordTriggerChange appends one trigger patch observation.
func (j *Journal) RecordTriggerChange(pipelineID, market, trigger string) error {
	if j == nil || j.db == nil {
		return nil
	}
	row := TriggerChange{
		ID:         uuid.New(),
		PipelineID: pipelineID,
		Market:     market,
		Trigger:    trigger,
	}
	if err := j.db.Create(&row).Error; err != nil {
		return fmt.Errorf("record trigger change: %w", err)
	}
	return nil
}

// Transitions returns the recorded history for one pipeline, oldest first,
// capped at limit when limit is positive.
func (j *Journal) Transitions(pipelineID string, limit int) ([]PipelineTransition, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	query := j.db.Where("pipeline_id = ?", pipelineID).Order("created_at asc, id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []PipelineTransition
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load transitions: %w", err)
	}
	return rows, nil
}
