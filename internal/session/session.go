// Package session tracks one import from upload to completion: a guarded
// status machine, the approved mapping and validation report, pending
// master-data candidates and the per-row lineage needed for rollback.
package session

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Session statuses, in rough lifecycle order.
const (
	StatusFileUploaded      = "file_uploaded"
	StatusAnalyzing         = "analyzing"
	StatusTemplateSuggested = "template_suggested"
	StatusMappingDefined    = "mapping_defined"
	StatusMappingApproved   = "mapping_approved"
	StatusDataValidated     = "data_validated"
	StatusPendingApproval   = "pending_approval"
	StatusApproved          = "approved"
	StatusImportingData     = "importing_data"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusCancelled         = "cancelled"
	StatusRolledBack        = "rolled_back"
)

// transitions is the forward edge set. The failed and cancelled edges are
// handled in CanTransition and not listed per-source.
var transitions = map[string][]string{
	StatusFileUploaded:      {StatusAnalyzing},
	StatusAnalyzing:         {StatusTemplateSuggested, StatusMappingDefined},
	StatusTemplateSuggested: {StatusMappingDefined, StatusMappingApproved},
	StatusMappingDefined:    {StatusMappingApproved},
	StatusMappingApproved:   {StatusDataValidated, StatusMappingDefined},
	StatusDataValidated:     {StatusPendingApproval, StatusApproved, StatusMappingDefined},
	StatusPendingApproval:   {StatusApproved, StatusDataValidated},
	StatusApproved:          {StatusImportingData},
	StatusImportingData:     {StatusCompleted},
	StatusCompleted:         {StatusRolledBack},
}

// terminal statuses admit no failure/cancel edge.
var terminal = map[string]bool{
	StatusCompleted:  false, // rollback still possible
	StatusFailed:     true,
	StatusCancelled:  true,
	StatusRolledBack: true,
}

// IsStatus reports whether s is a known status.
func IsStatus(s string) bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	_, ok := terminal[s]
	return ok
}

// CanTransition reports whether from -> to is a legal step. A no-op
// transition is always allowed. Failure is reachable from any active
// state; cancellation only before the import starts writing.
func CanTransition(from, to string) bool {
	if !IsStatus(from) || !IsStatus(to) {
		return false
	}
	if from == to {
		return true
	}
	if terminal[from] {
		return false
	}
	if to == StatusFailed && from != StatusCompleted {
		return true
	}
	if to == StatusCancelled && from != StatusCompleted && from != StatusImportingData {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one import session row.
type Session struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	FileHash    string    `json:"file_hash"`
	Status      string    `json:"status"`
	TargetTable string    `json:"target_table,omitempty"`
	Mapping     string    `json:"mapping,omitempty"`    // JSON document
	Validation  string    `json:"validation,omitempty"` // JSON document
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Note is one audit entry attached to a session.
type Note struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is one master-data value awaiting approval.
type Candidate struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Table     string    `json:"table"`
	Value     string    `json:"value"`
	Status    string    `json:"status"` // pending, approved, rejected
	CreatedAt time.Time `json:"created_at"`
}

// LineageRow records where one source row went. OriginalData and
// TransformedData are JSON documents of the row as read from the file and
// as written to the destination; they are immutable once appended, rollback
// only stamps the actor and time.
type LineageRow struct {
	ID              int64      `json:"id"`
	SessionID       string     `json:"session_id"`
	SourceRow       int        `json:"source_row"` // 1-based data row
	TargetTable     string     `json:"target_table"`
	TargetRecordID  string     `json:"target_record_id"` // composite keys joined with "|"
	Action          string     `json:"action"`           // inserted, updated, skipped
	SkipReason      string     `json:"skip_reason,omitempty"`
	OriginalData    string     `json:"original_data,omitempty"`
	TransformedData string     `json:"transformed_data,omitempty"`
	RolledBackBy    string     `json:"rolled_back_by,omitempty"`
	RolledBackAt    *time.Time `json:"rolled_back_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Lineage actions and skip reasons.
const (
	ActionInserted = "inserted"
	ActionUpdated  = "updated"
	ActionSkipped  = "skipped"

	SkipApprovedDuplicate = "approved_duplicate"
	SkipDuplicate         = "duplicate_skipped"
)

// FileHash fingerprints an upload: the content hash plus a hash of the
// caller-supplied metadata, so the same bytes uploaded under different
// metadata count as distinct sessions.
func FileHash(content []byte, metadata map[string]any) (string, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("session: hash metadata: %w", err)
	}
	c := sha256.Sum256(content)
	m := md5.Sum(meta)
	return hex.EncodeToString(c[:]) + "_" + hex.EncodeToString(m[:]), nil
}
