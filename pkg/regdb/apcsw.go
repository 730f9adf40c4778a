package regdb

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed adi.svd
var apCSWSvd string

// CswType selects which bus-variant encoding of the MEM-AP CSW register
// to decode against: the generic ADIv5 layout, or the AMBA AHB3 bus
// variant that adds HPROT/MasterType fields in place of the generic
// Prot byte.
type CswType int

const (
	CswGeneric CswType = iota
	CswAmbaAHB3
)

// cswGenericAddress and cswAmbaAHB3Address are synthetic addresses
// outside any real memory-mapped range, used only to key the bundled CSW
// RegisterInfo entries in a Database.
const (
	cswGenericAddress  uint64 = 0xFFFFFFFF00000000
	cswAmbaAHB3Address uint64 = cswGenericAddress + 0x20
)

var apCSWDatabase = func() *Database {
	db, err := FromSVD(strings.NewReader(apCSWSvd))
	if err != nil {
		panic(fmt.Sprintf("regdb: bundled adi.svd failed to parse: %v", err))
	}
	return db
}()

// APCSW returns the bundled RegisterInfo for the MEM-AP CSW register
// under the given bus variant encoding.
func APCSW(t CswType) RegisterInfo {
	addr := cswGenericAddress
	if t == CswAmbaAHB3 {
		addr = cswAmbaAHB3Address
	}
	info, ok := apCSWDatabase.GetRegister(addr)
	if !ok {
		panic(fmt.Sprintf("regdb: bundled adi.svd is missing the CSW register at %#x", addr))
	}
	return info
}
