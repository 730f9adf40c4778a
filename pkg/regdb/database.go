// Package regdb is an address-keyed register database: it loads one or
// more SVD documents, decodes a raw register value into its named fields
// (resolving enumerated variants), and diffs two decoded snapshots of the
// same register field-by-field.
package regdb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/OpenTraceLab/aditrace/internal/diag"
)

// EnumeratedValue is one SVD enumeratedValue entry. Value is nil for a
// catch-all ("default") variant.
type EnumeratedValue struct {
	Name      string
	Value     *uint64
	IsDefault bool
}

// FieldInfo is one SVD field description: a named bit range, optionally
// carrying an enumerated set of named values.
type FieldInfo struct {
	Name             string
	BitOffset        uint32
	BitWidth         uint32
	EnumeratedValues []EnumeratedValue
}

// RegisterInfo is a register as positioned in a specific device: an
// absolute address plus the device/peripheral/[cluster.]register name
// path and its field layout.
type RegisterInfo struct {
	Address        uint64
	DeviceName     string
	PeripheralName string
	ClusterName    string // empty if the register does not belong to a cluster
	Name           string
	Fields         []FieldInfo
}

// Identifier renders the register's full dotted name path, e.g.
// "STM32F4.GPIOA.MODER" or "STM32F4.TIM2.CH1.CCR1" for a clustered
// register.
func (r RegisterInfo) Identifier() string {
	name := r.Name
	if r.ClusterName != "" {
		name = r.ClusterName + "." + r.Name
	}
	return fmt.Sprintf("%s.%s.%s", r.DeviceName, r.PeripheralName, name)
}

// toFieldValue extracts a width-bit field starting at offset from value.
// A zero-width field always decodes to 0.
func toFieldValue(value uint64, offset, width uint32) uint64 {
	if width == 0 {
		return 0
	}
	mask := ^(^uint64(0) >> width << width)
	return (value >> offset) & mask
}

// DecodeValue decodes a raw register value into its named fields,
// resolving each field's enumerated variant per the SVD rule: an exact
// value match wins; failing that, a "default" catch-all variant is used;
// failing that, the field carries no variant. Fields are returned sorted
// by bit offset ascending.
func (r RegisterInfo) DecodeValue(value uint64) Register {
	fields := make([]Field, 0, len(r.Fields))
	for _, fi := range r.Fields {
		fieldValue := toFieldValue(value, fi.BitOffset, fi.BitWidth)

		var exact, catchAll *EnumeratedValue
		for i := range fi.EnumeratedValues {
			ev := fi.EnumeratedValues[i]
			switch {
			case ev.Value != nil && *ev.Value == fieldValue:
				exact = &ev
			case ev.Value != nil:
				// a non-matching explicit value; keep looking
			case ev.IsDefault:
				catchAll = &ev
			default:
				diag.Error("regdb: enumerated value %q has no value and is not default", ev.Name)
			}
			if exact != nil {
				break
			}
		}
		variant := exact
		if variant == nil {
			variant = catchAll
		}
		fields = append(fields, Field{Info: fi, Value: fieldValue, Variant: variant})
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Info.BitOffset < fields[j].Info.BitOffset
	})
	return Register{Info: r, Value: value, Fields: fields}
}

// Register is a RegisterInfo decoded against a concrete raw value.
type Register struct {
	Info   RegisterInfo
	Value  uint64
	Fields []Field // sorted by Info.BitOffset ascending
}

// Field is one decoded field of a Register.
type Field struct {
	Info    FieldInfo
	Value   uint64
	Variant *EnumeratedValue // nil if no enumerated value resolved
}

// ErrWrongRegister is returned by Diff when the two registers being
// compared are not decodings of the same RegisterInfo.
var ErrWrongRegister = errors.New("regdb: cannot diff registers with different identifiers")

// RegisterDiff is the result of comparing two Register snapshots of the
// same register.
type RegisterDiff struct {
	Old, New uint64
	Fields   []FieldDiff
}

// FieldDiff is one field whose decoded value changed between two
// Register snapshots.
type FieldDiff struct {
	Info           FieldInfo
	Old, New       uint64
	OldVariant     *EnumeratedValue
	NewVariant     *EnumeratedValue
}

func (d RegisterDiff) String() string {
	s := fmt.Sprintf("%#010x → %#010x\n", d.Old, d.New)
	for _, f := range d.Fields {
		s += fmt.Sprintf("  %s : %#x → %#x", f.Info.Name, f.Old, f.New)
		switch {
		case f.OldVariant != nil && f.NewVariant != nil:
			s += fmt.Sprintf(" / %s → %s\n", f.OldVariant.Name, f.NewVariant.Name)
		case f.OldVariant == nil && f.NewVariant == nil:
			s += "\n"
		case f.OldVariant == nil:
			s += fmt.Sprintf(" / ?! → %s\n", f.NewVariant.Name)
		default:
			s += fmt.Sprintf(" / %s → ?!\n", f.OldVariant.Name)
		}
	}
	return s
}

// RegisterDiffFromNothing renders a decoded register as if transitioning
// from a completely unknown prior value, for the first time a register's
// address is observed.
type RegisterDiffFromNothing struct {
	New Register
}

// DiffFromNothing wraps reg for display against an unknown prior value.
func DiffFromNothing(reg Register) RegisterDiffFromNothing {
	return RegisterDiffFromNothing{New: reg}
}

func (d RegisterDiffFromNothing) String() string {
	s := fmt.Sprintf("0x???????? → %#010x\n", d.New.Value)
	for _, f := range d.New.Fields {
		s += fmt.Sprintf("  %s : 0x? → %#x", f.Info.Name, f.Value)
		if f.Variant != nil {
			s += fmt.Sprintf(" / ? → %s\n", f.Variant.Name)
		} else {
			s += "\n"
		}
	}
	return s
}

// Diff compares old and new, two decodings of the same register. It
// returns (nil, nil) when the values are bitwise equal, an error if the
// two registers are not the same register, or the per-field diffs
// otherwise. Fields are compared positionally, assuming both snapshots
// were decoded from identical RegisterInfo field layouts.
func Diff(old, new Register) (*RegisterDiff, error) {
	if old.Info.Identifier() != new.Info.Identifier() {
		return nil, ErrWrongRegister
	}
	if old.Value == new.Value {
		return nil, nil
	}
	var fields []FieldDiff
	for i := range old.Fields {
		if i >= len(new.Fields) {
			break
		}
		o, n := old.Fields[i], new.Fields[i]
		if o.Value == n.Value {
			continue
		}
		fields = append(fields, FieldDiff{
			Info: o.Info, Old: o.Value, New: n.Value,
			OldVariant: o.Variant, NewVariant: n.Variant,
		})
	}
	return &RegisterDiff{Old: old.Value, New: new.Value, Fields: fields}, nil
}

// Database maps an absolute 64-bit address to the register described
// there.
type Database struct {
	regs map[uint64]RegisterInfo
}

// New returns an empty Database.
func New() *Database {
	return &Database{regs: make(map[uint64]RegisterInfo)}
}

// GetRegister looks up the register descriptor at address.
func (db *Database) GetRegister(address uint64) (RegisterInfo, bool) {
	r, ok := db.regs[address]
	return r, ok
}

func (db *Database) insert(r RegisterInfo) {
	if previous, ok := db.regs[r.Address]; ok {
		diag.Info("regdb: address collision: [%s] overwrites [%s]", r.Identifier(), previous.Identifier())
	}
	db.regs[r.Address] = r
}
