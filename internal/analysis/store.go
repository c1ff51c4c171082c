package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/troikatech/crm-voicebot/pkg/ai"
)

// Store persists analysis rows. The only write path is SaveResult,
// which commits the initial row and the fully populated update in one
// transaction so no caller can observe a half-written record.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the call_analyses table if missing.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&CallAnalysis{})
}

// Get returns the analysis row for a SID, (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, sid string) (*CallAnalysis, error) {
	var row CallAnalysis
	err := s.db.WithContext(ctx).Where("sid = ?", sid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}
	return &row, nil
}

// SaveResult writes the complete outcome of a pipeline run: insert row,
// then fill every classification field together with completed=true.
// Both statements share one transaction, so a crash cannot strand a
// permanently half-populated row.
func (s *Store) SaveResult(ctx context.Context, sid, callStatus, transcript string, c *ai.Classification) error {
	row, err := buildRow(sid, callStatus, transcript, c)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		initial := CallAnalysis{
			SID:        sid,
			Completed:  false,
			CallStatus: StatusInProgress,
		}
		if err := tx.Create(&initial).Error; err != nil {
			return fmt.Errorf("failed to insert analysis row: %w", err)
		}

		if err := tx.Model(&CallAnalysis{}).Where("sid = ?", sid).Updates(row).Error; err != nil {
			return fmt.Errorf("failed to write analysis result: %w", err)
		}
		return nil
	})
}

// SetCallStatus stamps the carrier-reported status on an existing
// analysis row. Rows are created only by the pipeline; a status update
// for a SID with no row is a no-op.
func (s *Store) SetCallStatus(ctx context.Context, sid, callStatus string) error {
	err := s.db.WithContext(ctx).
		Model(&CallAnalysis{}).
		Where("sid = ?", sid).
		Update("call_status", callStatus).Error
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}
	return nil
}

// StuckRows returns incomplete rows older than the cutoff. The sweeper
// reports these; nothing repairs them automatically.
func (s *Store) StuckRows(ctx context.Context, olderThan time.Duration) ([]CallAnalysis, error) {
	var rows []CallAnalysis
	cutoff := time.Now().Add(-olderThan)
	err := s.db.WithContext(ctx).
		Where("completed = ? AND call_status = ? AND created_at < ?", false, StatusInProgress, cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for stuck analyses: %w", err)
	}
	return rows, nil
}

func buildRow(sid, callStatus, transcript string, c *ai.Classification) (map[string]interface{}, error) {
	threat, err := json.Marshal(FlagReason{Flag: c.ThreatFlag, Reason: c.ThreatReason})
	if err != nil {
		return nil, fmt.Errorf("failed to encode threat: %w", err)
	}
	priority, err := json.Marshal(FlagReason{Level: c.Priority, Reason: c.PriorityReason})
	if err != nil {
		return nil, fmt.Errorf("failed to encode priority: %w", err)
	}
	human, err := json.Marshal(FlagReason{Flag: c.HumanInterventionRequired, Reason: c.HumanInterventionReason})
	if err != nil {
		return nil, fmt.Errorf("failed to encode human_intervention: %w", err)
	}
	satisfaction, err := json.Marshal(FlagReason{Value: c.Satisfied, Reason: c.SatisfiedReason})
	if err != nil {
		return nil, fmt.Errorf("failed to encode satisfaction: %w", err)
	}
	frustration, err := json.Marshal(FlagReason{Level: c.FrustrationLevel, Reason: c.FrustrationReason})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frustration: %w", err)
	}
	nuisance, err := json.Marshal(FlagReason{Value: c.Nuisance, Reason: c.NuisanceReason})
	if err != nil {
		return nil, fmt.Errorf("failed to encode nuisance: %w", err)
	}
	repeated, err := json.Marshal(FlagReason{Value: c.RepeatedComplaint, Reason: c.RepeatedComplaintReason})
	if err != nil {
		return nil, fmt.Errorf("failed to encode repeated_complaint: %w", err)
	}
	openQuestions := c.OpenQuestions
	if openQuestions == nil {
		openQuestions = []string{}
	}
	questions, err := json.Marshal(openQuestions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode open_questions: %w", err)
	}
	piiTypes := c.PIITypes
	if len(piiTypes) == 0 {
		piiTypes = []string{"None"}
	}
	pii, err := json.Marshal(PIIDetails{Detected: c.PIIDetected, Types: piiTypes})
	if err != nil {
		return nil, fmt.Errorf("failed to encode pii_details: %w", err)
	}

	return map[string]interface{}{
		"completed":                       true,
		"call_status":                     callStatus,
		"transcript":                      transcript,
		"transcript_status":               StatusCompleted,
		"summary":                         c.Summary,
		"summary_completed":               true,
		"information_requested":           c.InformationRequested,
		"information_requested_completed": true,
		"threat":                          threat,
		"threat_completed":                true,
		"priority":                        priority,
		"priority_completed":              true,
		"human_intervention":              human,
		"human_intervention_completed":    true,
		"satisfaction":                    satisfaction,
		"satisfaction_completed":          true,
		"frustration":                     frustration,
		"frustration_completed":           true,
		"nuisance":                        nuisance,
		"nuisance_completed":              true,
		"repeated_complaint":              repeated,
		"repeated_complaint_completed":    true,
		"next_best_action":                c.NextBestAction,
		"next_best_action_completed":      true,
		"open_questions":                  questions,
		"open_questions_completed":        true,
		"pii_details":                     pii,
		"pii_details_completed":           true,
	}, nil
}
