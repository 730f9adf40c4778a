// Package jep106 decodes JEDEC JEP106 manufacturer codes, trimmed to the
// subset ARM debug-port implementers actually assign to the AP IDR
// designer field.
package jep106

import "fmt"

var manufacturers = map[uint16]string{
	0x001: "AMD",
	0x00E: "Freescale (Motorola)",
	0x00F: "National Semiconductor",
	0x010: "NEC",
	0x017: "Texas Instruments",
	0x01F: "Atmel",
	0x020: "STMicroelectronics",
	0x025: "Analog Devices",
	0x02E: "Cypress",
	0x031: "Xilinx",
	0x03D: "Altera",
	0x041: "Lattice",
	0x049: "Infineon",
	0x06E: "Microchip",
	0x093: "ARM",
	0x0B7: "Espressif",
	0x13B: "Nordic Semiconductor",
	0x1F1: "Raspberry Pi",
}

// Lookup returns the manufacturer name for an 11-bit JEP106 designer code.
// ok is false for a code this table doesn't recognize; name is still a
// usable display string in that case.
func Lookup(code uint16) (name string, ok bool) {
	if m, found := manufacturers[code]; found {
		return m, true
	}
	return fmt.Sprintf("Unknown (%#03x)", code), false
}
