package regdb

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/aditrace/internal/diag"
)

// The following types mirror the subset of the CMSIS-SVD schema this
// package consumes. Numeric fields are left as strings at the XML layer
// (SVD permits decimal, 0x-hex, and #-binary literals) and parsed by
// parseSvdNumber on demand.

type svdDocument struct {
	XMLName     xml.Name        `xml:"device"`
	Name        string          `xml:"name"`
	Peripherals []svdPeripheral `xml:"peripherals>peripheral"`
}

type svdPeripheral struct {
	Name         string         `xml:"name"`
	DerivedFrom  string         `xml:"derivedFrom,attr"`
	BaseAddress  string         `xml:"baseAddress"`
	Registers    []svdRegister  `xml:"registers>register"`
	Clusters     []svdCluster   `xml:"registers>cluster"`
}

type svdCluster struct {
	Name          string        `xml:"name"`
	AddressOffset string        `xml:"addressOffset"`
	Registers     []svdRegister `xml:"register"`
}

type svdRegister struct {
	Name          string     `xml:"name"`
	AddressOffset string     `xml:"addressOffset"`
	Fields        []svdField `xml:"fields>field"`
}

type svdField struct {
	Name             string               `xml:"name"`
	BitOffset        string               `xml:"bitOffset"`
	BitWidth         string               `xml:"bitWidth"`
	BitRange         string               `xml:"bitRange"`
	EnumeratedValues []svdEnumeratedValue `xml:"enumeratedValues>enumeratedValue"`
}

type svdEnumeratedValue struct {
	Name    string  `xml:"name"`
	Value   *string `xml:"value"`
	IsDefault bool  `xml:"isDefault"`
}

func parseSvdNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		return strconv.ParseUint(s[2:], 16, 64)
	case strings.HasPrefix(s, "#"):
		return strconv.ParseUint(strings.ReplaceAll(s[1:], "x", "0"), 2, 64)
	default:
		return strconv.ParseUint(s, 10, 64)
	}
}

// bitOffset and bitWidth honor both SVD encodings: the explicit
// <bitOffset>/<bitWidth> pair, and the "[msb:lsb]" <bitRange> form.
func (f svdField) bitOffsetWidth() (offset, width uint32, err error) {
	if f.BitRange != "" {
		br := strings.Trim(f.BitRange, "[]")
		parts := strings.SplitN(br, ":", 2)
		if len(parts) != 2 {
			return 0, 0, fmt.Errorf("regdb: malformed bitRange %q", f.BitRange)
		}
		msb, err1 := strconv.ParseUint(parts[0], 10, 32)
		lsb, err2 := strconv.ParseUint(parts[1], 10, 32)
		if err1 != nil || err2 != nil {
			return 0, 0, fmt.Errorf("regdb: malformed bitRange %q", f.BitRange)
		}
		return uint32(lsb), uint32(msb-lsb) + 1, nil
	}
	o, err := parseSvdNumber(f.BitOffset)
	if err != nil {
		return 0, 0, fmt.Errorf("regdb: malformed bitOffset %q: %w", f.BitOffset, err)
	}
	w, err := parseSvdNumber(f.BitWidth)
	if err != nil {
		return 0, 0, fmt.Errorf("regdb: malformed bitWidth %q: %w", f.BitWidth, err)
	}
	return uint32(o), uint32(w), nil
}

func (f svdField) toFieldInfo() (FieldInfo, error) {
	offset, width, err := f.bitOffsetWidth()
	if err != nil {
		return FieldInfo{}, err
	}
	fi := FieldInfo{Name: f.Name, BitOffset: offset, BitWidth: width}
	for _, ev := range f.EnumeratedValues {
		out := EnumeratedValue{Name: ev.Name, IsDefault: ev.IsDefault}
		if ev.Value != nil {
			v, err := parseSvdNumber(*ev.Value)
			if err != nil {
				return FieldInfo{}, fmt.Errorf("regdb: malformed enumeratedValue %q: %w", ev.Name, err)
			}
			out.Value = &v
		}
		fi.EnumeratedValues = append(fi.EnumeratedValues, out)
	}
	return fi, nil
}

func (r svdRegister) toFieldInfos() ([]FieldInfo, error) {
	out := make([]FieldInfo, 0, len(r.Fields))
	for _, f := range r.Fields {
		fi, err := f.toFieldInfo()
		if err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, nil
}

// expandDerivedFrom copies a base peripheral's registers/clusters onto
// any peripheral naming it via derivedFrom, one pass only. Multi-level
// inheritance chains are not resolved: a peripheral whose base itself
// derives from another gets only that base's own content, keeps the
// base's derivedFrom, and is logged as unresolved after this pass.
func expandDerivedFrom(peripherals []svdPeripheral) []svdPeripheral {
	byName := make(map[string]svdPeripheral, len(peripherals))
	for _, p := range peripherals {
		byName[p.Name] = p
	}
	out := make([]svdPeripheral, len(peripherals))
	for i, p := range peripherals {
		if p.DerivedFrom == "" {
			out[i] = p
			continue
		}
		base, ok := byName[p.DerivedFrom]
		if !ok {
			diag.Warn("regdb: peripheral %q derives from unknown peripheral %q", p.Name, p.DerivedFrom)
			out[i] = p
			continue
		}
		merged := base
		merged.Name = p.Name
		if p.BaseAddress != "" {
			merged.BaseAddress = p.BaseAddress
		}
		if len(p.Registers) > 0 {
			merged.Registers = p.Registers
		}
		if len(p.Clusters) > 0 {
			merged.Clusters = p.Clusters
		}
		out[i] = merged
	}
	for _, p := range out {
		if p.DerivedFrom != "" {
			diag.Warn("regdb: peripheral %q still has an unresolved derivedFrom after one expansion pass", p.Name)
		}
	}
	return out
}

// FromSVD parses an SVD document from r into a fresh Database.
func FromSVD(r io.Reader) (*Database, error) {
	db := New()
	if err := db.ExtendWithSVD(r); err != nil {
		return nil, err
	}
	return db, nil
}

// ExtendWithSVD parses an SVD document from r and inserts its registers
// into db, expanding derivedFrom peripherals and last-wins-merging on
// address collision.
func (db *Database) ExtendWithSVD(r io.Reader) error {
	var doc svdDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("regdb: decode svd: %w", err)
	}

	peripherals := expandDerivedFrom(doc.Peripherals)
	for _, p := range peripherals {
		baseAddress, err := parseSvdNumber(p.BaseAddress)
		if err != nil {
			return fmt.Errorf("regdb: peripheral %q: malformed baseAddress %q: %w", p.Name, p.BaseAddress, err)
		}

		for _, reg := range p.Registers {
			if err := db.insertRegister(doc.Name, p.Name, "", baseAddress, reg); err != nil {
				return err
			}
		}
		for _, cluster := range p.Clusters {
			clusterOffset, err := parseSvdNumber(cluster.AddressOffset)
			if err != nil {
				return fmt.Errorf("regdb: peripheral %q cluster %q: malformed addressOffset %q: %w", p.Name, cluster.Name, cluster.AddressOffset, err)
			}
			for _, reg := range cluster.Registers {
				if err := db.insertRegister(doc.Name, p.Name, cluster.Name, baseAddress+clusterOffset, reg); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (db *Database) insertRegister(deviceName, peripheralName, clusterName string, base uint64, reg svdRegister) error {
	offset, err := parseSvdNumber(reg.AddressOffset)
	if err != nil {
		return fmt.Errorf("regdb: register %q: malformed addressOffset %q: %w", reg.Name, reg.AddressOffset, err)
	}
	fields, err := reg.toFieldInfos()
	if err != nil {
		return err
	}
	db.insert(RegisterInfo{
		Address:        base + offset,
		DeviceName:     deviceName,
		PeripheralName: peripheralName,
		ClusterName:    clusterName,
		Name:           reg.Name,
		Fields:         fields,
	})
	return nil
}
