package regdb

import (
	"strings"
	"testing"
)

const sampleSVD = `<?xml version="1.0"?>
<device>
  <name>Test device</name>
  <peripherals>
    <peripheral>
      <name>GPIOA</name>
      <baseAddress>0x40020000</baseAddress>
      <registers>
        <register>
          <name>MODER</name>
          <addressOffset>0x0</addressOffset>
          <fields>
            <field>
              <name>MODE0</name>
              <bitRange>[1:0]</bitRange>
            </field>
          </fields>
        </register>
      </registers>
    </peripheral>
    <peripheral derivedFrom="GPIOA">
      <name>GPIOB</name>
      <baseAddress>0x40020400</baseAddress>
    </peripheral>
    <peripheral>
      <name>TIMER</name>
      <baseAddress>0x40000000</baseAddress>
      <registers>
        <cluster>
          <name>CH1</name>
          <addressOffset>0x10</addressOffset>
          <register>
            <name>CCR</name>
            <addressOffset>0x4</addressOffset>
          </register>
        </cluster>
      </registers>
    </peripheral>
  </peripherals>
</device>`

func TestFromSVDInsertsDirectRegisters(t *testing.T) {
	db, err := FromSVD(strings.NewReader(sampleSVD))
	if err != nil {
		t.Fatal(err)
	}
	info, ok := db.GetRegister(0x40020000)
	if !ok {
		t.Fatal("expected GPIOA.MODER at 0x40020000")
	}
	if info.Identifier() != "Test device.GPIOA.MODER" {
		t.Errorf("got identifier %q", info.Identifier())
	}
	if len(info.Fields) != 1 || info.Fields[0].Name != "MODE0" {
		t.Errorf("got fields %+v", info.Fields)
	}
}

func TestFromSVDExpandsDerivedFromOnePass(t *testing.T) {
	db, err := FromSVD(strings.NewReader(sampleSVD))
	if err != nil {
		t.Fatal(err)
	}
	info, ok := db.GetRegister(0x40020400)
	if !ok {
		t.Fatal("expected GPIOB.MODER derived from GPIOA at 0x40020400")
	}
	if info.PeripheralName != "GPIOB" {
		t.Errorf("derived register kept the base peripheral's name: %+v", info)
	}
	if info.Identifier() != "Test device.GPIOB.MODER" {
		t.Errorf("got identifier %q", info.Identifier())
	}
}

func TestFromSVDClusterAddressing(t *testing.T) {
	db, err := FromSVD(strings.NewReader(sampleSVD))
	if err != nil {
		t.Fatal(err)
	}
	info, ok := db.GetRegister(0x40000000 + 0x10 + 0x4)
	if !ok {
		t.Fatal("expected TIMER.CH1.CCR at base+cluster offset+register offset")
	}
	if info.Identifier() != "Test device.TIMER.CH1.CCR" {
		t.Errorf("got identifier %q", info.Identifier())
	}
}

func TestExtendWithSVDLastWinsOnCollision(t *testing.T) {
	db := New()
	if err := db.ExtendWithSVD(strings.NewReader(sampleSVD)); err != nil {
		t.Fatal(err)
	}
	if err := db.ExtendWithSVD(strings.NewReader(sampleSVD)); err != nil {
		t.Fatal(err)
	}
	if _, ok := db.GetRegister(0x40020000); !ok {
		t.Fatal("expected the register to survive re-insertion")
	}
}

func TestAPCSWGenericDecodeAndDiff(t *testing.T) {
	info := APCSW(CswGeneric)
	old := info.DecodeValue(0x03000002)
	new_ := info.DecodeValue(0x04001002)

	diff, err := Diff(old, new_)
	if err != nil {
		t.Fatal(err)
	}
	if diff == nil {
		t.Fatal("expected a non-nil diff between distinct CSW values")
	}

	sizeField := findField(t, old, "Size")
	if sizeField.Variant == nil || sizeField.Variant.Name != "Word" {
		t.Errorf("0x03000002 Size field should decode to Word, got %+v", sizeField.Variant)
	}
}

func TestAPCSWAmbaAHB3Decode(t *testing.T) {
	info := APCSW(CswAmbaAHB3)
	reg := info.DecodeValue(0x04001002)
	typeField := findField(t, reg, "Type")
	if typeField.Variant == nil || typeField.Variant.Name != "AmbaAhb3" {
		t.Errorf("Type field should decode to AmbaAhb3, got %+v", typeField.Variant)
	}
}
