// Package hwops provides HwOps implementations: a register-programmed
// binding per IP family plus fully in-memory mocks for tests.
package hwops

import (
	"encoding/binary"

	"github.com/qdma-core/qdma/internal/interfaces"
)

// Config-BAR register offsets for the soft-IP register file. Indirect
// context access is a window: the payload is staged in the data
// registers, then a single command write latches it into the selected
// context table.
const (
	regGlblRingSz  = 0x0204 // 16 entries, 4 bytes each
	regGlblDscCfg  = 0x0250 // writeback interval
	regC2HTimerCnt = 0x0a00
	regC2HCntTh    = 0x0a40
	regC2HBufSz    = 0x0ab0
	regVersion     = 0x0134
	regCapability  = 0x013c

	regIndCtxtData = 0x0804 // 8 x 32-bit data window
	regIndCtxtCmd  = 0x0844

	regMsixTable    = 0x2000
	regMsixMaskStep = 0x000c

	regDmapIntCidx  = 0x18000
	regDmapH2CPidx  = 0x18004
	regDmapC2HPidx  = 0x18008
	regDmapCmptCidx = 0x1800c
	dmapStride      = 0x10
)

// Indirect-context selector values, one per (table, direction).
const (
	ctxtSelSwC2H uint32 = iota
	ctxtSelSwH2C
	ctxtSelHwC2H
	ctxtSelHwH2C
	ctxtSelCreditC2H
	ctxtSelCreditH2C
	ctxtSelPfch
	ctxtSelCmpt
	ctxtSelFmap
	ctxtSelQid2VecC2H
	ctxtSelQid2VecH2C
)

const ctxtDataWords = 8

// SoftIP is the HwOps binding for the soft (UltraScale+) IP family,
// programming the device entirely through its config BAR. Every
// indirect-context sequence holds the DeviceRegLock for its full
// duration: the data-window write and the command write must appear
// atomic to other functions sharing the BAR.
type SoftIP struct {
	mmio interfaces.Mmio
	lock *DeviceRegLock
}

// NewSoftIP binds a SoftIP register file behind mmio. The lock is shared
// across every HwOps instance on the same config BAR.
func NewSoftIP(mmio interfaces.Mmio, lock *DeviceRegLock) *SoftIP {
	return &SoftIP{mmio: mmio, lock: lock}
}

func (s *SoftIP) readReg(offset uintptr) (uint32, error) {
	var buf [4]byte
	if err := s.mmio.ReadBar(interfaces.BarConfig, offset, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (s *SoftIP) writeReg(offset uintptr, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return s.mmio.WriteBar(interfaces.BarConfig, offset, buf[:])
}

func ctxtSel(ctx interfaces.CtxType, isC2H bool) uint32 {
	switch ctx {
	case interfaces.CtxSW:
		if isC2H {
			return ctxtSelSwC2H
		}
		return ctxtSelSwH2C
	case interfaces.CtxHW:
		if isC2H {
			return ctxtSelHwC2H
		}
		return ctxtSelHwH2C
	case interfaces.CtxCredit:
		if isC2H {
			return ctxtSelCreditC2H
		}
		return ctxtSelCreditH2C
	case interfaces.CtxPrefetch:
		return ctxtSelPfch
	case interfaces.CtxCMPT:
		return ctxtSelCmpt
	case interfaces.CtxQid2Vec:
		if isC2H {
			return ctxtSelQid2VecC2H
		}
		return ctxtSelQid2VecH2C
	default:
		return ctxtSelFmap
	}
}

// ctxtCmd packs the indirect command register: qid, op, and context
// selector.
func ctxtCmd(qid uint16, op interfaces.CtxOp, sel uint32) uint32 {
	return uint32(qid)<<7 | uint32(op)<<5 | sel<<1
}

// Context stages data into the indirect window and latches the command,
// holding the register lock across the whole multi-register sequence.
func (s *SoftIP) Context(op interfaces.CtxOp, ctx interfaces.CtxType, isC2H bool, qidAbs uint16, data []byte) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if op == interfaces.CtxOpWrite {
		var window [ctxtDataWords * 4]byte
		copy(window[:], data)
		for w := 0; w < ctxtDataWords; w++ {
			v := binary.LittleEndian.Uint32(window[w*4 : w*4+4])
			if err := s.writeReg(regIndCtxtData+uintptr(w*4), v); err != nil {
				return nil, err
			}
		}
	}

	if err := s.writeReg(regIndCtxtCmd, ctxtCmd(qidAbs, op, ctxtSel(ctx, isC2H))); err != nil {
		return nil, err
	}

	if op != interfaces.CtxOpRead {
		return nil, nil
	}

	out := make([]byte, ctxtDataWords*4)
	for w := 0; w < ctxtDataWords; w++ {
		v, err := s.readReg(regIndCtxtData + uintptr(w*4))
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(out[w*4:w*4+4], v)
	}
	return out, nil
}

func (s *SoftIP) WriteH2CPidx(qidAbs uint16, pidx uint32) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.writeReg(regDmapH2CPidx+uintptr(qidAbs)*dmapStride, pidx)
}

func (s *SoftIP) WriteC2HPidx(qidAbs uint16, pidx uint32) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.writeReg(regDmapC2HPidx+uintptr(qidAbs)*dmapStride, pidx)
}

func (s *SoftIP) WriteCmptCidx(qidAbs uint16, cidx uint32, armIrq bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	v := cidx & 0xffff
	if armIrq {
		v |= 1 << 16
	}
	return s.writeReg(regDmapCmptCidx+uintptr(qidAbs)*dmapStride, v)
}

func (s *SoftIP) WriteIntrCidx(vector uint32, cidx uint32) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.writeReg(regDmapIntCidx+uintptr(vector)*dmapStride, cidx)
}

// WriteFmap programs the function's queue window through the FMAP
// indirect context: qbase in the first word, qmax in the second.
func (s *SoftIP) WriteFmap(fn uint16, qbase uint32, qmax uint32) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.writeReg(regIndCtxtData, qbase); err != nil {
		return err
	}
	if err := s.writeReg(regIndCtxtData+4, qmax); err != nil {
		return err
	}
	return s.writeReg(regIndCtxtCmd, ctxtCmd(fn, interfaces.CtxOpWrite, ctxtSelFmap))
}

// MaskIntr sets or clears bit 0 of the vector's MSI-X mask register
// (table at 0x2000, one 32-bit register per vector, stride 0x0c).
func (s *SoftIP) MaskIntr(vector uint32, mask bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	off := uintptr(regMsixTable) + uintptr(vector)*regMsixMaskStep
	v, err := s.readReg(off)
	if err != nil {
		return err
	}
	if mask {
		v |= 1
	} else {
		v &^= 1
	}
	return s.writeReg(off, v)
}

func (s *SoftIP) Capabilities() (interfaces.Capabilities, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	v, err := s.readReg(regCapability)
	if err != nil {
		return interfaces.Capabilities{}, err
	}
	return interfaces.Capabilities{
		MMEnabled:             v&(1<<0) != 0,
		STEnabled:             v&(1<<1) != 0,
		MMCompletionEnabled:   v&(1<<2) != 0,
		DescBypassEnabled:     v&(1<<3) != 0,
		PrefetchEnabled:       v&(1<<4) != 0,
		PrefetchBypassEnabled: v&(1<<5) != 0,
		Desc64ByteSupported:   v&(1<<6) != 0,
		CmplOvfDisSupported:   v&(1<<7) != 0,
		NumPFs:                (v >> 8) & 0xf,
		QMax:                  v >> 16,
	}, nil
}

func (s *SoftIP) VersionInfo() (major, minor, patch uint16, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	v, rerr := s.readReg(regVersion)
	if rerr != nil {
		return 0, 0, 0, rerr
	}
	return uint16(v >> 16), uint16(v>>8) & 0xff, uint16(v) & 0xff, nil
}

func (s *SoftIP) ReadCSR() (interfaces.CSRConf, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var csr interfaces.CSRConf
	tables := []struct {
		base uintptr
		dst  *[16]uint32
	}{
		{regGlblRingSz, &csr.RingSize},
		{regC2HTimerCnt, &csr.C2HTimerCount},
		{regC2HCntTh, &csr.C2HThresholdCount},
		{regC2HBufSz, &csr.C2HBufferSize},
	}
	for _, t := range tables {
		for i := 0; i < 16; i++ {
			v, err := s.readReg(t.base + uintptr(i*4))
			if err != nil {
				return interfaces.CSRConf{}, err
			}
			t.dst[i] = v
		}
	}
	v, err := s.readReg(regGlblDscCfg)
	if err != nil {
		return interfaces.CSRConf{}, err
	}
	csr.WritebackInterval = v & 0x7
	return csr, nil
}

var _ interfaces.HwOps = (*SoftIP)(nil)
