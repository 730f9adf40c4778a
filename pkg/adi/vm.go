package adi

import (
	"fmt"

	"github.com/OpenTraceLab/aditrace/internal/diag"
)

// Select is the DP SELECT register: its bank fields steer subsequent AP
// register accesses, and ApSel names which of the 256 APs is "current".
type Select struct {
	DpBankSel uint8 // 4 bits
	ApBankSel uint8 // 4 bits
	ApSel     uint8
}

// SelectFromWord decodes a 32-bit DP.SELECT write into its banking fields.
func SelectFromWord(v uint32) Select {
	return Select{
		DpBankSel: uint8(v & 0xF),
		ApBankSel: uint8((v >> 4) & 0xF),
		ApSel:     uint8((v >> 24) & 0xFF),
	}
}

// Dp models the Debug Port's SELECT-banked state.
type Dp struct {
	Select Select
}

// CswSize is the access width encoded in CSW bits 2:0.
type CswSize uint8

const (
	CswSizeByte     CswSize = 0b000
	CswSizeHalfword CswSize = 0b001
	CswSizeWord     CswSize = 0b010
)

func (s CswSize) String() string {
	switch s {
	case CswSizeByte:
		return "Byte"
	case CswSizeHalfword:
		return "Halfword"
	case CswSizeWord:
		return "Word"
	default:
		return fmt.Sprintf("Reserved(%#x)", uint8(s))
	}
}

// CswAddrInc is the auto-increment mode encoded in CSW bits 5:4. Packed
// increment is not supported: any such value is rejected at decode time.
type CswAddrInc uint8

const (
	CswAddrIncDisabled CswAddrInc = 0b00
	CswAddrIncSingle   CswAddrInc = 0b01
)

// Csw is the 32-bit MEM-AP Control/Status Word. Only a subset of bits are
// read-write and preserved across a write-when-already-set; everything
// else is read-only or reserved from the VM's point of view.
type Csw struct {
	Size               CswSize
	AddrInc            CswAddrInc
	DeviceEn           bool
	TransferInProgress bool
	SecureDebug        bool
	Protection         uint8 // 7 bits
	DbgSwEnable        bool
}

// CswFromWord decodes a 32-bit CSW value. It returns an error if the size
// or address-increment code falls outside the supported subset (MEM-AP
// Large Data and packed-increment are non-goals).
func CswFromWord(v uint32) (Csw, error) {
	size := CswSize((v >> 0) & 0b111)
	switch size {
	case CswSizeByte, CswSizeHalfword, CswSizeWord:
	default:
		return Csw{}, fmt.Errorf("unsupported CSW size code %#03b", uint8(size))
	}
	addrInc := CswAddrInc((v >> 4) & 0b11)
	switch addrInc {
	case CswAddrIncDisabled, CswAddrIncSingle:
	default:
		return Csw{}, fmt.Errorf("unsupported CSW addr_inc code %#02b", uint8(addrInc))
	}
	return Csw{
		Size:               size,
		AddrInc:            addrInc,
		DeviceEn:           (v>>6)&1 != 0,
		TransferInProgress: (v>>7)&1 != 0,
		SecureDebug:        (v>>23)&1 != 0,
		Protection:         uint8((v >> 24) & 0x7F),
		DbgSwEnable:        (v>>31)&1 != 0,
	}, nil
}

// overwriteRWFields updates only the fields the original Rust
// implementation documents as read-write, preserving everything else
// (reserved/RO bits are never known precisely so they're simply left
// alone on the receiver).
func (c *Csw) overwriteRWFields(other Csw) {
	c.Size = other.Size
	c.AddrInc = other.AddrInc
	c.TransferInProgress = other.TransferInProgress
	c.Protection = other.Protection
}

// IdrType classifies the bus an AP bridges to (IDR bits 3:0).
type IdrType uint8

const (
	IdrTypeJtagOrComAp                IdrType = 0x0
	IdrTypeAmbaAhb3Bus                IdrType = 0x1
	IdrTypeAmbaApb2Or3Bus             IdrType = 0x2
	IdrTypeAmbaAxi3Or4BusOptAceLite   IdrType = 0x4
	IdrTypeAmbaAhb5Bus                IdrType = 0x5
	IdrTypeAmbaApb4And5Bus            IdrType = 0x6
	IdrTypeAmbaAxi5Bus                IdrType = 0x7
	IdrTypeAmbaAhb5WithEnhancedHprot  IdrType = 0x8
)

// CswType selects which SVD-backed CSW variant (Generic, AMBA-AHB3)
// decodes this AP's CSW register.
type CswType int

const (
	CswTypeGeneric CswType = iota
	CswTypeAmbaAhb3
)

// CswType maps an IDR type to the CSW register variant that should decode
// this AP's Control/Status Word.
func (t IdrType) CswType() CswType {
	if t == IdrTypeAmbaAhb3Bus {
		return CswTypeAmbaAhb3
	}
	return CswTypeGeneric
}

// IdrClass classifies the AP (IDR bits 16:13).
type IdrClass uint8

const (
	IdrClassUndefined      IdrClass = 0b0000
	IdrClassComAccessPort  IdrClass = 0b0001
	IdrClassMemoryAccessPort IdrClass = 0b1000
)

func idrClassFromBits(v uint8) IdrClass {
	switch v {
	case uint8(IdrClassComAccessPort):
		return IdrClassComAccessPort
	case uint8(IdrClassMemoryAccessPort):
		return IdrClassMemoryAccessPort
	default:
		return IdrClassUndefined
	}
}

// Idr is the 32-bit AP Identification Register.
type Idr struct {
	Type     IdrType
	Variant  uint8 // 4 bits
	Class    IdrClass
	Designer uint16 // 11 bits, JEP106 continuation+identity
	Revision uint8  // 4 bits
}

// IdrFromWord decodes a raw 32-bit IDR value.
func IdrFromWord(v uint32) Idr {
	return Idr{
		Type:     IdrType(v & 0xF),
		Variant:  uint8((v >> 4) & 0xF),
		Class:    idrClassFromBits(uint8((v >> 13) & 0xF)),
		Designer: uint16((v >> 17) & 0x7FF),
		Revision: uint8((v >> 28) & 0xF),
	}
}

// Ap holds per-Access-Port state: its last-known CSW/TAR/IDR and the
// sparse memory image reconstructed from observed MEM-AP traffic.
type Ap struct {
	Memory map[uint32]uint32
	TAR    *uint32
	CSW    *Csw
	IDR    *Idr
}

func newAp() Ap {
	return Ap{Memory: make(map[uint32]uint32)}
}

// State is the full simulated ADIv5 target: one DP, 256 APs.
type State struct {
	Dp  Dp
	Aps [256]Ap
}

func newState() State {
	var s State
	for i := range s.Aps {
		s.Aps[i] = newAp()
	}
	return s
}

// Clone performs a deep copy, needed because VM.StepForward hands back
// both the pre- and post-step state by value.
func (s State) Clone() State {
	clone := s
	for i := range clone.Aps {
		ap := s.Aps[i]
		mem := make(map[uint32]uint32, len(ap.Memory))
		for k, v := range ap.Memory {
			mem[k] = v
		}
		c := Ap{Memory: mem}
		if ap.TAR != nil {
			tar := *ap.TAR
			c.TAR = &tar
		}
		if ap.CSW != nil {
			csw := *ap.CSW
			c.CSW = &csw
		}
		if ap.IDR != nil {
			idr := *ap.IDR
			c.IDR = &idr
		}
		clone.Aps[i] = c
	}
	return clone
}

func (s *State) currentApSel() uint8 { return s.Dp.Select.ApSel }
func (s *State) currentAp() *Ap      { return &s.Aps[s.currentApSel()] }

// Step mutates s according to a single Input and returns the semantic
// operations it produced. Invariant violations and unrecognized dispatch
// combinations are logged and otherwise ignored; the VM never aborts on
// bad input.
func (s *State) Step(in Input) []Operation {
	var ops []Operation
	if in.Landmark != nil {
		return []Operation{{Landmark: in.Landmark}}
	}
	cmd := *in.Command
	ts := cmd.TS
	rw := RoW(cmd.RnW)
	a := uint32(cmd.A) << 2

	if !cmd.APnDP {
		ops = s.stepDp(ts, rw, a, cmd)
	} else {
		ops = s.stepAp(ts, rw, a, cmd)
	}
	return ops
}

func (s *State) stepDp(ts *Timestamp, rw RoW, a uint32, cmd Command) []Operation {
	dpBankSel := s.Dp.Select.DpBankSel
	access := func(name string) Operation {
		return Operation{DpRegisterAccess: &DpRegisterAccess{TS: ts, RW: rw, Name: name, Value: cmd.Data}}
	}
	switch {
	case a == 0x0 && rw == Read:
		diag.Debug("DP.DPIDR: %#x", cmd.Data)
		return []Operation{access("DPIDR")}
	case a == 0x0 && rw == Write:
		diag.Debug("DP.ABORT: %#x", cmd.Data)
		return []Operation{access("ABORT")}
	case dpBankSel == 0x0 && a == 0x4:
		diag.Debug("DP.CTRL: %s:%#x", rw, cmd.Data)
		return []Operation{access("CTRL")}
	case dpBankSel == 0x1 && a == 0x4:
		diag.Debug("DP.DLCR: %s:%#x", rw, cmd.Data)
		return []Operation{access("DLCR")}
	case dpBankSel == 0x2 && a == 0x4 && rw == Read:
		diag.Debug("DP.TARGETID: R:%#x", cmd.Data)
		return []Operation{access("TARGETID")}
	case dpBankSel == 0x3 && a == 0x4 && rw == Read:
		diag.Debug("DP.DLPIDR: R:%#x", cmd.Data)
		return []Operation{access("DLPIDR")}
	case dpBankSel == 0x4 && a == 0x4 && rw == Read:
		diag.Debug("DP.EVENTSTAT: R:%#x", cmd.Data)
		return []Operation{access("EVENTSTAT")}
	case a == 0x8 && rw == Read:
		diag.Debug("DP.RESEND: R:%#x", cmd.Data)
		return []Operation{access("RESEND")}
	case a == 0x8 && rw == Write:
		newSelect := SelectFromWord(cmd.Data)
		diag.Debug("DP.SELECT: %+v -> %+v", s.Dp.Select, newSelect)
		op := access("SELECT")
		s.Dp.Select = newSelect
		return []Operation{op}
	case a == 0xC && rw == Read:
		diag.Debug("DP.RDBUFF: %#x", cmd.Data)
		return []Operation{access("RDBUFF")}
	case a == 0xC && rw == Write:
		diag.Debug("DP.TARGETSEL: W:%#x", cmd.Data)
		return []Operation{access("TARGETSEL")}
	default:
		diag.Error("unexpected DP command: %v", cmd)
		return nil
	}
}

func (s *State) stepAp(ts *Timestamp, rw RoW, a uint32, cmd Command) []Operation {
	apsel := s.currentApSel()
	apAddr := (uint32(s.Dp.Select.ApBankSel) << 4) | a
	access := func(name string) Operation {
		return Operation{ApRegisterAccess: &ApRegisterAccess{TS: ts, APSel: apsel, RW: rw, Name: name, Value: cmd.Data}}
	}
	switch apAddr {
	case 0x0:
		newCsw, err := CswFromWord(cmd.Data)
		if err != nil {
			diag.Error("AP[%d].CSW: %v", apsel, err)
			return nil
		}
		diag.Debug("AP[%d].CSW: %s:%+v", apsel, rw, newCsw)
		op := access("CSW")
		ap := s.currentAp()
		switch rw {
		case Read:
			ap.CSW = &newCsw
		case Write:
			if ap.CSW != nil {
				ap.CSW.overwriteRWFields(newCsw)
			} else {
				ap.CSW = &newCsw
			}
		}
		return []Operation{op}
	case 0x4:
		diag.Debug("AP[%d].TAR: %s:%#x", apsel, rw, cmd.Data)
		op := access("TAR")
		ap := s.currentAp()
		if rw == Write {
			data := cmd.Data
			ap.TAR = &data
		} else if ap.TAR == nil || *ap.TAR != cmd.Data {
			diag.Error("AP[%d].TAR read %#x does not match known TAR %v", apsel, cmd.Data, ap.TAR)
		}
		return []Operation{op}
	case 0xC:
		diag.Debug("AP[%d].DRW: %s:%#x", apsel, rw, cmd.Data)
		op := access("DRW")
		ap := s.currentAp()
		if ap.TAR == nil {
			diag.Error("AP[%d].DRW access without TAR set", apsel)
			return []Operation{op}
		}
		if ap.CSW == nil {
			diag.Error("AP[%d].DRW access without CSW set", apsel)
			return []Operation{op}
		}
		ops := []Operation{op}
		if memOp, ok := s.drwAccess(ts, rw, *ap.TAR, cmd.Data); ok {
			ops = append(ops, memOp)
		}
		return ops
	case 0x10, 0x14, 0x18, 0x1C:
		name, lowBits := bdName(apAddr)
		diag.Debug("AP[%d].%s: %s:%#x", apsel, name, rw, cmd.Data)
		op := access(name)
		ap := s.currentAp()
		if ap.TAR == nil {
			diag.Error("AP[%d].%s access without TAR set", apsel, name)
			return []Operation{op}
		}
		addr := (*ap.TAR & 0xFFFFFFF0) | lowBits
		memOp := s.bdAccess(ts, rw, addr, cmd.Data)
		return []Operation{op, memOp}
	case 0xF4:
		diag.Debug("AP[%d].CFG: %s:%#x", apsel, rw, cmd.Data)
		return []Operation{access("CFG")}
	case 0xF8:
		diag.Debug("AP[%d].BASE: %s:%#x", apsel, rw, cmd.Data)
		return []Operation{access("BASE")}
	case 0xFC:
		diag.Debug("AP[%d].IDR: %s:%#x", apsel, rw, cmd.Data)
		idr := IdrFromWord(cmd.Data)
		s.currentAp().IDR = &idr
		return []Operation{access("IDR")}
	default:
		diag.Error("unexpected AP command %v (DP.SELECT: %+v)", cmd, s.Dp.Select)
		return nil
	}
}

func bdName(apAddr uint32) (string, uint32) {
	switch apAddr {
	case 0x10:
		return "BD0", 0x0
	case 0x14:
		return "BD1", 0x4
	case 0x18:
		return "BD2", 0x8
	default:
		return "BD3", 0xC
	}
}

// VM drives State forward (and back) through an ordered command list,
// tracking where it currently sits in that list.
type VM struct {
	cursor int
	state  State
}

// NewVM returns a VM with fresh, zeroed state.
func NewVM() *VM {
	return &VM{state: newState()}
}

// Step is a single VM.StepForward result: the operations produced, and
// the state/cursor immediately before and after.
type Step struct {
	Operations []Operation
	PrevState  State
	PrevCursor int
	State      State
	Cursor     int
}

// StepForward advances the VM by one Input from commands, starting at the
// internal cursor. It returns false once the cursor is past the end.
func (vm *VM) StepForward(commands []Input) (Step, bool) {
	if vm.cursor >= len(commands) {
		return Step{}, false
	}
	command := commands[vm.cursor]
	prevState := vm.state.Clone()
	ops := vm.state.Step(command)
	currState := vm.state.Clone()
	vm.cursor++
	return Step{
		Operations: ops,
		PrevState:  prevState,
		PrevCursor: vm.cursor - 1,
		State:      currState,
		Cursor:     vm.cursor,
	}, true
}

// StepBack resets the VM and replays commands[0:cursor-1], trading time
// for having no persistent undo log (matching the upstream "reset and
// replay" contract).
func (vm *VM) StepBack(commands []Input) (Step, bool) {
	if vm.cursor == 0 {
		return Step{}, false
	}
	prevState := vm.state.Clone()
	target := vm.cursor - 1
	vm.state = newState()
	for _, command := range commands[:target] {
		vm.state.Step(command)
	}
	vm.cursor = target
	return Step{
		PrevState:  prevState,
		PrevCursor: vm.cursor + 1,
		State:      vm.state.Clone(),
		Cursor:     vm.cursor,
	}, true
}

// State returns the VM's current state without advancing it.
func (vm *VM) State() State { return vm.state }

// Cursor returns the index of the next Input that StepForward will consume.
func (vm *VM) Cursor() int { return vm.cursor }
