package constants

import "time"

// Descriptor fragmentation limits.
const (
	// MMMaxDescLen is the largest byte length a single MM descriptor may carry.
	MMMaxDescLen = 65535

	// SGFragLen is the chunk boundary (15 * 4KiB) used to further split an
	// SG element once it exceeds MMMaxDescLen.
	SGFragLen = 61440

	// STMaxDescLen is the largest byte length a single ST descriptor may carry.
	STMaxDescLen = 65535
)

// Per-pass service limits.
const (
	// MaxReqServiceCnt bounds how many requests one poll pass may fully
	// emit for a single queue before yielding, to keep per-queue servicing
	// fair across the poll thread's round.
	MaxReqServiceCnt = 10

	// CompletionBudget bounds how many completion-ring slots one poll pass
	// will drain for MM/ST-H2C completion servicing.
	CompletionBudget = 2048

	// C2HPidxBatchSize is how many consumed C2H descriptors accumulate
	// before the driver batch-writes the C2H PIDX doorbell.
	C2HPidxBatchSize = 16
)

// Ring geometry.
const (
	// NumRingSizeEntries is the number of slots in each CSR ring-size /
	// timer / threshold / buffer-size table.
	NumRingSizeEntries = 16

	// IntrRingEntries is the fixed entry count of an InterruptCoalescingRing
	//.
	IntrRingEntries = 512

	// IntrRingEntrySize is the byte size of one coalescing-ring entry.
	IntrRingEntrySize = 8

	// DmaAllocAlign is the alignment required for a RingBuffer's coherent
	// allocation.
	DmaAllocAlign = 4096

	// WbStatusCellSize is the size in bytes of the trailing writeback
	// status cell appended to every descriptor ring allocation.
	WbStatusCellSize = 8
)

// DescriptorSizes lists the supported descriptor sizes in bytes, indexed
// by the 2-bit sw_desc_sz / cmpt_sz CSR field.
var DescriptorSizes = [4]int{8, 16, 32, 64}

// Timing.
const (
	// StopQuiesceWait is the minimum time stop() waits for in-flight
	// hardware activity to drain before invalidating contexts.
	StopQuiesceWait = 2 * time.Millisecond

	// WBPollInterval is the spacing between writeback-monitor polls.
	WBPollInterval = 2 * time.Microsecond

	// DefaultWBTimeoutPolls is the default iteration count for the
	// writeback-monitor's poll loop.
	DefaultWBTimeoutPolls = 5000

	// DefaultWBTimeout is DefaultWBTimeoutPolls expressed as a duration,
	// for callers that configure QueueConfig in terms of wall time.
	DefaultWBTimeout = time.Duration(DefaultWBTimeoutPolls) * WBPollInterval

	// MaxPendingWakeups bounds the coalesced poll-thread wakeup counter
	// so a burst of enqueue/DPC signals collapses into a small number of
	// wakeups rather than one per event.
	MaxPendingWakeups = 10
)

// FragScratchCap is the pooled capacity of the fragment-list scratch
// slices ST-C2H request matching collects completions into (see
// internal/queue/pool.go). Sized to the largest fragment count a single
// completion entry can fan out to with the smallest CSR buffer size.
const FragScratchCap = 64
