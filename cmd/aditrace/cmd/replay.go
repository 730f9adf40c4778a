package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/aditrace/pkg/adi"
	"github.com/OpenTraceLab/aditrace/pkg/cmsisdap"
	"github.com/OpenTraceLab/aditrace/pkg/jep106"
	"github.com/OpenTraceLab/aditrace/pkg/regdb"
	"github.com/OpenTraceLab/aditrace/pkg/swdtext"
)

const (
	modeCmsisDapWsPdml = "cmsis-dap-ws-pdml"
	modeSigrokSwd      = "sigrok-swd"
)

var (
	svdFiles   []string
	inputFile  string
	mode       string
	memDiffs   bool
	rawMemAp   bool
	rawDp      bool
	rawAp      bool
	showTS     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a captured debug-port trace through the ADIv5 virtual machine",
	RunE:  runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringArrayVarP(&svdFiles, "svd", "s", nil, "SVD file used for register decoding (repeatable)")
	replayCmd.Flags().StringVarP(&inputFile, "input", "i", "", "input trace file (required)")
	replayCmd.Flags().StringVar(&mode, "mode", "", fmt.Sprintf("trace format: %s|%s (required)", modeCmsisDapWsPdml, modeSigrokSwd))
	replayCmd.Flags().BoolVarP(&memDiffs, "mem-diffs", "m", false, "show memory diffs for every MEM-AP target between each step")
	replayCmd.Flags().BoolVarP(&rawMemAp, "raw-mem-ap", "M", false, "show raw MEM-AP accesses")
	replayCmd.Flags().BoolVar(&rawDp, "raw-dp", false, "show raw DP accesses")
	replayCmd.Flags().BoolVar(&rawAp, "raw-ap", false, "show raw AP accesses")
	replayCmd.Flags().BoolVar(&showTS, "ts", false, "prepend timestamps when available")

	replayCmd.MarkFlagRequired("input")
	replayCmd.MarkFlagRequired("mode")
}

func runReplay(cmd *cobra.Command, args []string) error {
	memApDB := regdb.New()
	for _, path := range svdFiles {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("aditrace: open svd %q: %w", path, err)
		}
		err = memApDB.ExtendWithSVD(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("aditrace: load svd %q: %w", path, err)
		}
	}

	commands, err := loadCommands(mode, inputFile)
	if err != nil {
		return err
	}

	vm := adi.NewVM()
	for {
		step, ok := vm.StepForward(commands)
		if !ok {
			break
		}
		printOperations(step.Operations, memApDB)
		if memDiffs {
			printMemDiffs(step.PrevState, step.State, memApDB)
		}
	}
	return nil
}

func loadCommands(mode, path string) ([]adi.Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("aditrace: open input %q: %w", path, err)
	}
	defer f.Close()

	switch mode {
	case modeCmsisDapWsPdml:
		ins, err := cmsisdap.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("aditrace: %w", err)
		}
		return ins, nil
	case modeSigrokSwd:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("aditrace: read input %q: %w", path, err)
		}
		ins, err := swdtext.Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("aditrace: %w", err)
		}
		return ins, nil
	default:
		return nil, fmt.Errorf("aditrace: unrecognized --mode %q (want %s or %s)", mode, modeCmsisDapWsPdml, modeSigrokSwd)
	}
}

func tsPrefix(ts *adi.Timestamp) string {
	if showTS && ts != nil {
		return fmt.Sprintf("%d-%d:", ts.Start, ts.End)
	}
	return ""
}

func printOperations(ops []adi.Operation, memApDB *regdb.Database) {
	for _, op := range ops {
		switch {
		case op.MemAp != nil && rawMemAp:
			m := op.MemAp
			line := fmt.Sprintf("%s%s:AP[%d]:%#010x %s %#010x", tsPrefix(m.TS), m.RW, m.APSel, m.Address, m.RW.Arrow(), m.Value.As())
			if info, ok := memApDB.GetRegister(uint64(m.Address)); ok {
				line += fmt.Sprintf(" (%s)", info.Identifier())
			}
			fmt.Println(line)
		case op.DpRegisterAccess != nil && rawDp:
			d := op.DpRegisterAccess
			fmt.Printf("%s%s:DP.%s %s %#010x\n", tsPrefix(d.TS), d.RW, d.Name, d.RW.Arrow(), d.Value)
		case op.ApRegisterAccess != nil && rawAp:
			a := op.ApRegisterAccess
			line := fmt.Sprintf("%s%s:AP[%d].%s %s %#010x", tsPrefix(a.TS), a.RW, a.APSel, a.Name, a.RW.Arrow(), a.Value)
			if a.Name == "IDR" {
				if name, ok := jep106.Lookup(adi.IdrFromWord(a.Value).Designer); ok {
					line += fmt.Sprintf(" (%s)", name)
				}
			}
			fmt.Println(line)
		case op.Landmark != nil:
			fmt.Printf("!:%s\n", op.Landmark.Message)
		}
	}
}

func adiCswType(idr *adi.Idr) regdb.CswType {
	if idr == nil {
		return regdb.CswGeneric
	}
	if idr.Type.CswType() == adi.CswTypeAmbaAhb3 {
		return regdb.CswAmbaAHB3
	}
	return regdb.CswGeneric
}

func printMemDiffs(prev, curr adi.State, memApDB *regdb.Database) {
	for apsel := 0; apsel < len(curr.Aps); apsel++ {
		prevAp, currAp := prev.Aps[apsel], curr.Aps[apsel]
		cswType := adiCswType(currAp.IDR)

		switch {
		case prevAp.CSW == nil && currAp.CSW != nil:
			info := regdb.APCSW(cswType)
			value := info.DecodeValue(uint64(cswToWord(*currAp.CSW)))
			fmt.Printf("%s / AP[%d]\n", info.Identifier(), apsel)
			fmt.Print(regdb.DiffFromNothing(value).String())
		case prevAp.CSW != nil && currAp.CSW != nil:
			info := regdb.APCSW(cswType)
			old := info.DecodeValue(uint64(cswToWord(*prevAp.CSW)))
			new_ := info.DecodeValue(uint64(cswToWord(*currAp.CSW)))
			diff, err := regdb.Diff(old, new_)
			if err != nil {
				fmt.Fprintf(os.Stderr, "aditrace: CSW diff: %v\n", err)
				continue
			}
			if diff != nil {
				fmt.Printf("%s / AP[%d]\n", info.Identifier(), apsel)
				fmt.Print(diff.String())
			}
		}

		for address, newValue := range currAp.Memory {
			oldValue, existed := prevAp.Memory[address]
			if existed {
				if oldValue == newValue {
					continue
				}
				fmt.Printf("U:AP[%d]:%#010x : %#010x → %#010x\n", apsel, address, oldValue, newValue)
				info, ok := memApDB.GetRegister(uint64(address))
				if !ok {
					continue
				}
				old := info.DecodeValue(uint64(oldValue))
				new_ := info.DecodeValue(uint64(newValue))
				diff, err := regdb.Diff(old, new_)
				if err != nil || diff == nil {
					continue
				}
				fmt.Println(info.Identifier())
				fmt.Print(diff.String())
			} else {
				fmt.Printf("N:AP[%d]:%#010x : 0x???????? → %#010x\n", apsel, address, newValue)
				info, ok := memApDB.GetRegister(uint64(address))
				if !ok {
					continue
				}
				value := info.DecodeValue(uint64(newValue))
				fmt.Println(info.Identifier())
				fmt.Print(regdb.DiffFromNothing(value).String())
			}
		}
	}
}

// cswToWord re-encodes a decoded Csw back to its 32-bit wire form, the
// only representation the register database can decode against.
func cswToWord(c adi.Csw) uint32 {
	var v uint32
	v |= uint32(c.Size) & 0b111
	v |= (uint32(c.AddrInc) & 0b11) << 4
	if c.DeviceEn {
		v |= 1 << 6
	}
	if c.TransferInProgress {
		v |= 1 << 7
	}
	if c.SecureDebug {
		v |= 1 << 23
	}
	v |= uint32(c.Protection&0x7F) << 24
	if c.DbgSwEnable {
		v |= 1 << 31
	}
	return v
}
