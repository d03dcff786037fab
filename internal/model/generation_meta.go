package model

import "time"

// GenerationMeta records the outcome detail of the most recent transition.
// A pending plan carries no meta.
type GenerationMeta interface {
	MetaKind() string
}

const (
	MetaProcessing = "processing"
	MetaDone       = "done"
	MetaError      = "error"
	MetaFailed     = "failed"
)

type ProcessingMeta struct {
	StartedAt  time.Time `json:"started_at"`
	Regenerate bool      `json:"regenerate"`
}

type DoneMeta struct {
	GeneratedAt time.Time `json:"generated_at"`
	Regenerate  bool      `json:"regenerate"`
	ArtifactRef string    `json:"artifact_ref,omitempty"`
	Version     string    `json:"version"`
}

type ErrorMeta struct {
	ErrorAt      time.Time `json:"error_at"`
	ErrorMessage string    `json:"error_message"`
	Regenerate   bool      `json:"regenerate"`
}

// FailedMeta is written when the job runner gives up on a plan that is
// still processing.
type FailedMeta struct {
	FailedAt     time.Time `json:"failed_at"`
	ErrorMessage string    `json:"error_message"`
}

func (ProcessingMeta) MetaKind() string { return MetaProcessing }
func (DoneMeta) MetaKind() string       { return MetaDone }
func (ErrorMeta) MetaKind() string      { return MetaError }
func (FailedMeta) MetaKind() string     { return MetaFailed }
