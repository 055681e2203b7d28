package queue

import (
	"time"

	"github.com/qdma-core/qdma/internal/tracker"
)

// ServiceStatus reports whether a service call drained its work or ran
// out of ring space/budget and must be resumed on the next poll pass.
type ServiceStatus int

const (
	ServiceFinished ServiceStatus = iota
	ServiceContinue
)

// SGElement is one scatter-gather element of a DMA request: a
// physically contiguous buffer segment.
type SGElement struct {
	Phys uint64
	Len  int
}

// Request is a single MM or ST-H2C DMA request awaiting descriptor
// generation. Zero-length requests are represented by a single SG
// element with Len 0.
type Request struct {
	SGList       []SGElement
	DeviceOffset uint64 // MM only: starting device-side byte offset
	Cb           tracker.CompletionFunc
	Priv         interface{}

	sgIndex    int
	elemOffset int
	bytesDone  int
	totalLen   int
	start      time.Time
}

// NewRequest constructs a Request ready for descriptor generation.
func NewRequest(sgList []SGElement, deviceOffset uint64, cb tracker.CompletionFunc, priv interface{}) *Request {
	if len(sgList) == 0 {
		sgList = []SGElement{{Phys: 0, Len: 0}}
	}
	total := 0
	for _, e := range sgList {
		total += e.Len
	}
	return &Request{SGList: sgList, DeviceOffset: deviceOffset, Cb: cb, Priv: priv, totalLen: total, start: time.Now()}
}

// done reports whether every SG element has been turned into descriptors.
func (r *Request) done() bool {
	return r.sgIndex >= len(r.SGList)
}

type descChunk struct {
	elem   SGElement
	offset int
	length int
	sop    bool
	eop    bool
	// bytesDone is the cumulative request-relative byte offset of this
	// chunk's first byte, for device-offset address computation.
	bytesDone int
}

// nextChunk computes the next descriptor-sized slice of the request
// without mutating its cursor: an element is emitted whole when it fits
// maxDescLen, otherwise carved at fragLen boundaries.
func (r *Request) nextChunk(maxDescLen, fragLen int) descChunk {
	elem := r.SGList[r.sgIndex]
	remaining := elem.Len - r.elemOffset
	length := remaining
	if length > maxDescLen {
		length = fragLen
	}
	isLastOfElem := r.elemOffset+length == elem.Len
	isLastElem := r.sgIndex == len(r.SGList)-1
	return descChunk{
		elem:      elem,
		offset:    r.elemOffset,
		length:    length,
		sop:       r.sgIndex == 0 && r.elemOffset == 0,
		eop:       isLastElem && isLastOfElem,
		bytesDone: r.bytesDone,
	}
}

// advance moves the request's cursor past a chunk returned by nextChunk.
func (r *Request) advance(c descChunk) {
	r.elemOffset += c.length
	r.bytesDone += c.length
	if r.elemOffset == r.SGList[r.sgIndex].Len {
		r.sgIndex++
		r.elemOffset = 0
	}
}
