package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a synthesis run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunAnalyzing  RunStatus = "analyzing"
	RunGenerating RunStatus = "generating"
	RunPlanning   RunStatus = "planning"
	RunComposing  RunStatus = "composing"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// Run is the ledger record of one audio-to-video synthesis.
type Run struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	AudioPath    string     `json:"audioPath" gorm:"size:767;not null"`
	Style        string     `json:"style" gorm:"size:500;not null"`
	Narrative    string     `json:"narrative" gorm:"type:text"`
	Keyframes    int        `json:"keyframes" gorm:"default:8"`
	Status       RunStatus  `json:"status" gorm:"size:20;default:'queued';index"`
	Stage        string     `json:"stage" gorm:"size:20"`
	Progress     int        `json:"progress" gorm:"default:0"`
	OutputPath   string     `json:"outputPath,omitempty" gorm:"size:767"`
	ObjectKey    string     `json:"objectKey,omitempty" gorm:"size:767"`
	Duration     float64    `json:"duration"`
	Tempo        float64    `json:"tempo"`
	SegmentCount int        `json:"segmentCount"`
	Error        string     `json:"error,omitempty" gorm:"type:text"`
	TimelineJSON string     `json:"-" gorm:"column:timeline;type:longtext"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// TableName 指定表名
func (Run) TableName() string {
	return "runs"
}

// NewRun creates a queued run with a fresh ID.
func NewRun(audioPath, style, narrative string, keyframes int) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.New().String(),
		AudioPath: audioPath,
		Style:     style,
		Narrative: narrative,
		Keyframes: keyframes,
		Status:    RunQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ProgressEvent reports stage progress of a run.
type ProgressEvent struct {
	RunID   string    `json:"runId"`
	Stage   string    `json:"stage"`
	Percent int       `json:"percent"`
	Message string    `json:"message"`
	Status  RunStatus `json:"status,omitempty"`
	Time    time.Time `json:"time"`
}
