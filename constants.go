package qdma

import "github.com/qdma-core/qdma/internal/constants"

// Re-exported tunables for the public API.
const (
	MMMaxDescLen       = constants.MMMaxDescLen
	SGFragLen          = constants.SGFragLen
	STMaxDescLen       = constants.STMaxDescLen
	MaxReqServiceCnt   = constants.MaxReqServiceCnt
	CompletionBudget   = constants.CompletionBudget
	C2HPidxBatchSize   = constants.C2HPidxBatchSize
	NumRingSizeEntries = constants.NumRingSizeEntries
	IntrRingEntries    = constants.IntrRingEntries
)

// DefaultWBTimeout is the default writeback-monitor timeout; exposed as
// a time.Duration so callers can tune it without counting poll steps.
var DefaultWBTimeout = constants.DefaultWBTimeout
