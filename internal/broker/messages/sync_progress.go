package messages

import "time"

// Progress phases, shared by both pipelines.
const (
	PhaseFetch         = "fetch"
	PhaseValidation    = "validation"
	PhaseCreationStart = "creation_start"
	PhaseCreation      = "creation"
	PhaseFiltering     = "filtering"
	PhaseUpdating      = "updating"
	PhaseComplete      = "complete"
	PhaseError         = "error"
)

// SyncProgress is one event on the progress stream. Both pipelines publish
// these; consumers (status sink, log tail) subscribe independently.
type SyncProgress struct {
	Pipeline string    `json:"pipeline"` // "orders" | "tracking"
	Phase    string    `json:"phase"`
	Account  string    `json:"account,omitempty"`
	At       time.Time `json:"at"`

	Processed int `json:"processed"`
	Total     int `json:"total"`
	Created   int `json:"created,omitempty"`
	Updated   int `json:"updated,omitempty"`
	Failed    int `json:"failed,omitempty"`

	Message string `json:"message,omitempty"`
	// LogOnly events carry a log line but must not move a progress bar.
	LogOnly bool `json:"log_only,omitempty"`
}
