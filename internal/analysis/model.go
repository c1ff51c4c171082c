// Package analysis runs the post-call pipeline: validate the call with
// the telephony provider, download its recording, transcribe, classify,
// and persist the result in one shot.
package analysis

import (
	"time"

	"gorm.io/datatypes"
)

// Call status values stored on the analysis row.
const (
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// Statuses reported to process-call callers.
const (
	ReportProcessing      = "processing"
	ReportCompleted       = "completed"
	ReportRecordingNotYet = "call-recording-yet-generate"
)

// FlagReason pairs a tri-state verdict with its transcript evidence.
type FlagReason struct {
	Flag   string `json:"flag,omitempty"`
	Level  string `json:"level,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

// PIIDetails describes PII explicitly spoken during the call.
type PIIDetails struct {
	Detected string   `json:"detected"`
	Types    []string `json:"types"`
}

// CallAnalysis is one row per analyzed call. A row only ever exists in
// two durable shapes: completed=false with nothing but the SID and
// status (the transient window inside a single pipeline write), or
// fully populated with completed=true. Per-field completion flags
// mirror the overall flag so downstream consumers can verify no
// partial write slipped through.
type CallAnalysis struct {
	SID       string `gorm:"column:sid;primaryKey" json:"sid"`
	Completed bool   `gorm:"column:completed;default:false" json:"completed"`

	CallStatus       string `gorm:"column:call_status" json:"call_status"`
	Transcript       string `gorm:"column:transcript" json:"transcript"`
	TranscriptStatus string `gorm:"column:transcript_status" json:"transcript_status"`

	Summary          string `gorm:"column:summary" json:"summary"`
	SummaryCompleted bool   `gorm:"column:summary_completed" json:"summary_completed"`

	InformationRequested          string `gorm:"column:information_requested" json:"information_requested"`
	InformationRequestedCompleted bool   `gorm:"column:information_requested_completed" json:"information_requested_completed"`

	Threat          datatypes.JSON `gorm:"column:threat" json:"threat"`
	ThreatCompleted bool           `gorm:"column:threat_completed" json:"threat_completed"`

	Priority          datatypes.JSON `gorm:"column:priority" json:"priority"`
	PriorityCompleted bool           `gorm:"column:priority_completed" json:"priority_completed"`

	HumanIntervention          datatypes.JSON `gorm:"column:human_intervention" json:"human_intervention"`
	HumanInterventionCompleted bool           `gorm:"column:human_intervention_completed" json:"human_intervention_completed"`

	Satisfaction          datatypes.JSON `gorm:"column:satisfaction" json:"satisfaction"`
	SatisfactionCompleted bool           `gorm:"column:satisfaction_completed" json:"satisfaction_completed"`

	Frustration          datatypes.JSON `gorm:"column:frustration" json:"frustration"`
	FrustrationCompleted bool           `gorm:"column:frustration_completed" json:"frustration_completed"`

	Nuisance          datatypes.JSON `gorm:"column:nuisance" json:"nuisance"`
	NuisanceCompleted bool           `gorm:"column:nuisance_completed" json:"nuisance_completed"`

	RepeatedComplaint          datatypes.JSON `gorm:"column:repeated_complaint" json:"repeated_complaint"`
	RepeatedComplaintCompleted bool           `gorm:"column:repeated_complaint_completed" json:"repeated_complaint_completed"`

	NextBestAction          string `gorm:"column:next_best_action" json:"next_best_action"`
	NextBestActionCompleted bool   `gorm:"column:next_best_action_completed" json:"next_best_action_completed"`

	OpenQuestions          datatypes.JSON `gorm:"column:open_questions" json:"open_questions"`
	OpenQuestionsCompleted bool           `gorm:"column:open_questions_completed" json:"open_questions_completed"`

	PIIDetails          datatypes.JSON `gorm:"column:pii_details" json:"pii_details"`
	PIIDetailsCompleted bool           `gorm:"column:pii_details_completed" json:"pii_details_completed"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (CallAnalysis) TableName() string {
	return "call_analyses"
}
