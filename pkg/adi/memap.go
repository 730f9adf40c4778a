package adi

import "github.com/OpenTraceLab/aditrace/internal/diag"

// drwAccess implements the MEM-AP byte-lane engine for a DRW access: it
// reshapes `value` onto the correct lane of the 32-bit memory cell at
// address&^3 according to tar_lo and the current CSW size, then advances
// TAR if auto-increment is enabled. It returns (operation, true) on a
// supported lane combination, or (zero, false) if the combination is
// invalid (logged, no mutation).
func (s *State) drwAccess(ts *Timestamp, rw RoW, address uint32, value uint32) (Operation, bool) {
	ap := s.currentAp()
	csw := *ap.CSW // caller (stepAp) has already checked that TAR and CSW are non-nil
	tarLo := address & 0b11

	cell := ap.Memory[address&0xFFFFFFFC]
	var surfaced uint32
	switch {
	case tarLo == 0b00 && csw.Size == CswSizeWord:
		cell = value
		surfaced = value
	case tarLo == 0b00 && csw.Size == CswSizeHalfword:
		v := value & 0x0000FFFF
		cell = (cell & 0xFFFF0000) | v
		surfaced = v
	case tarLo == 0b10 && csw.Size == CswSizeHalfword:
		v := value & 0xFFFF0000
		cell = (cell & 0x0000FFFF) | v
		surfaced = v >> 16
	case tarLo == 0b00 && csw.Size == CswSizeByte:
		v := value & 0x000000FF
		cell = (cell & 0xFFFFFF00) | v
		surfaced = v
	case tarLo == 0b01 && csw.Size == CswSizeByte:
		v := value & 0x0000FF00
		cell = (cell & 0xFFFF00FF) | v
		surfaced = v >> 8
	case tarLo == 0b10 && csw.Size == CswSizeByte:
		v := value & 0x00FF0000
		cell = (cell & 0xFF00FFFF) | v
		surfaced = v >> 16
	case tarLo == 0b11 && csw.Size == CswSizeByte:
		v := value & 0xFF000000
		cell = (cell & 0x00FFFFFF) | v
		surfaced = v >> 24
	default:
		diag.Error("invalid DRW byte-lane combination: tar_lo=%#b size=%v", tarLo, csw.Size)
		return Operation{}, false
	}
	ap.Memory[address&0xFFFFFFFC] = cell

	var memValue MemApValue
	switch csw.Size {
	case CswSizeWord:
		memValue = WordValue(surfaced)
	case CswSizeHalfword:
		memValue = HalfwordValue(uint16(surfaced))
	case CswSizeByte:
		memValue = ByteValue(uint8(surfaced))
	}
	diag.Info("%s:%#010x %s %s", rw, address, rw.Arrow(), memValue)

	op := Operation{MemAp: &MemApAccess{TS: ts, APSel: s.currentApSel(), RW: rw, Address: address, Value: memValue}}

	if csw.AddrInc == CswAddrIncSingle {
		var step uint32
		switch csw.Size {
		case CswSizeWord:
			step = 4
		case CswSizeHalfword:
			step = 2
		case CswSizeByte:
			step = 1
		}
		*ap.TAR += step
	}
	return op, true
}

// bdAccess implements a direct BDn access: unlike DRW it is always
// treated as a full word, with no byte-lane reshaping and no address
// increment.
func (s *State) bdAccess(ts *Timestamp, rw RoW, address uint32, value uint32) Operation {
	ap := s.currentAp()
	ap.Memory[address] = value
	diag.Info("%s:%#010x %s %#010x", rw, address, rw.Arrow(), value)
	return Operation{MemAp: &MemApAccess{TS: ts, APSel: s.currentApSel(), RW: rw, Address: address, Value: WordValue(value)}}
}
