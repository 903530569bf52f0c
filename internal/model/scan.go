// Package model holds the scan record shared by the record stores, the HTTP
// handlers and the detection worker.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by record stores for unknown scan identifiers.
	ErrNotFound = errors.New("scan not found")
	// ErrTerminal is returned when a conditional update hits a record that is
	// already COMPLETED or FAILED.
	ErrTerminal = errors.New("scan already finished")
	// ErrInvalidTransition rejects status changes outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle position of a scan. Only the four constants below
// are valid values; ParseStatus is the single way to build one from text.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ParseStatus converts stored text into a Status. The historical "ERROR"
// value is read as FAILED.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return StatusPending, nil
	case "PROCESSING":
		return StatusProcessing, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "FAILED", "ERROR":
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending, StatusProcessing:
		return false
	}
	return false
}

// CanTransition reports whether s may move to next. Re-marking PROCESSING is
// allowed so duplicate deliveries can repeat the status bump. A scan only
// completes after it was marked PROCESSING; PENDING may still fail when its
// trigger cannot be queued.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	}
	return false
}

// Label is one detector result. Confidence is a percentage in [0,100].
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Instances  int     `json:"instances,omitempty"`
}

// Result carries the fields that only exist once a scan is COMPLETED.
type Result struct {
	CatsFound         bool    `json:"cats_found"`
	CatCount          int     `json:"cat_count"`
	HighestConfidence float64 `json:"highest_confidence"`
	Labels            []Label `json:"all_labels"`
	CatLabels         []Label `json:"cat_labels"`
}

// Outcome is the terminal write applied by the detection worker. The set of
// implementations is closed: Completed and Failed.
type Outcome interface {
	Status() Status
	isOutcome()
}

// Completed finishes a scan with a classification result.
type Completed struct {
	Result Result
}

// Status implements Outcome.
func (Completed) Status() Status { return StatusCompleted }
func (Completed) isOutcome() {}

// Failed finishes a scan with an error message.
type Failed struct {
	Message string
}

// Status implements Outcome.
func (Failed) Status() Status { return StatusFailed }
func (Failed) isOutcome() {}

// Scan is one record per submitted image.
type Scan struct {
	ID           string     `json:"scan_id"`
	Status       Status     `json:"status"`
	ImageRef     string     `json:"image_ref"`
	ContentType  string     `json:"content_type"`
	UserID       string     `json:"user_id"`
	Filename     string     `json:"filename,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       *Result    `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewScan builds a PENDING record stamped with now.
func NewScan(id, imageRef, contentType, userID string, now time.Time) *Scan {
	if userID == "" {
		userID = "anonymous"
	}
	now = now.UTC()
	return &Scan{
		ID:          id,
		Status:      StatusPending,
		ImageRef:    imageRef,
		ContentType: contentType,
		UserID:      userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkProcessing bumps the status to PROCESSING.
func (s *Scan) MarkProcessing(now time.Time) error {
	if s.Status.Terminal() {
		return ErrTerminal
	}
	s.Status = StatusProcessing
	s.UpdatedAt = now.UTC()
	return nil
}

// Finish applies a terminal outcome in one step.
func (s *Scan) Finish(outcome Outcome, now time.Time) error {
	if s.Status.Terminal() {
		return ErrTerminal
	}
	if !s.Status.CanTransition(outcome.Status()) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, outcome.Status())
	}
	now = now.UTC()
	switch o := outcome.(type) {
	case Completed:
		res := o.Result
		res.Labels = cloneLabels(res.Labels)
		res.CatLabels = cloneLabels(res.CatLabels)
		s.Result = &res
		s.ErrorMessage = ""
		s.CompletedAt = &now
	case Failed:
		s.Result = nil
		s.ErrorMessage = o.Message
	default:
		return fmt.Errorf("%w: unsupported outcome %T", ErrInvalidTransition, outcome)
	}
	s.Status = outcome.Status()
	s.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (s *Scan) Clone() *Scan {
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.Result != nil {
		res := *s.Result
		res.Labels = cloneLabels(s.Result.Labels)
		res.CatLabels = cloneLabels(s.Result.CatLabels)
		out.Result = &res
	}
	return &out
}

func cloneLabels(in []Label) []Label {
	if in == nil {
		return []Label{}
	}
	out := make([]Label, len(in))
	copy(out, in)
	return out
}
