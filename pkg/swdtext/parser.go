package swdtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/aditrace/pkg/adi"
)

// accessID identifies one DP or AP register access by the exact line
// content sigrok-cli prints for it, together with the (apndp, rnw, a)
// tuple it decodes to.
type accessID struct {
	apndp bool
	rnw   bool
	a     uint8 // already shifted: bits 3:2 of the ADI address word
	tag   string
}

func (id accessID) toCommand(start, end uint64, value uint32) adi.Command {
	return adi.Command{
		TS:    &adi.Timestamp{Start: start, End: end},
		APnDP: id.apndp,
		RnW:   id.rnw,
		A:     id.a,
		Data:  value,
	}
}

var dpReadTags = map[string]accessID{
	"IDCODE":      {apndp: false, rnw: true, a: 0, tag: "IDCODE"},
	"R CTRL/STAT": {apndp: false, rnw: true, a: 1, tag: "R CTRL/STAT"},
	"RESEND":      {apndp: false, rnw: true, a: 2, tag: "RESEND"},
}

var dpWriteTags = map[string]accessID{
	"W ABORT":     {apndp: false, rnw: false, a: 0, tag: "W ABORT"},
	"W CTRL/STAT": {apndp: false, rnw: false, a: 1, tag: "W CTRL/STAT"},
	"W SELECT":    {apndp: false, rnw: false, a: 2, tag: "W SELECT"},
}

var apWriteTags = map[string]accessID{
	"W AP0": {apndp: true, rnw: false, a: 0, tag: "W AP0"},
	"W AP4": {apndp: true, rnw: false, a: 1, tag: "W AP4"},
	"W AP8": {apndp: true, rnw: false, a: 2, tag: "W AP8"},
	"W APc": {apndp: true, rnw: false, a: 3, tag: "W APc"},
}

var apReadTags = map[string]accessID{
	"R AP0": {apndp: true, rnw: true, a: 0, tag: "R AP0"},
	"R AP4": {apndp: true, rnw: true, a: 1, tag: "R AP4"},
	"R AP8": {apndp: true, rnw: true, a: 2, tag: "R AP8"},
	"R APc": {apndp: true, rnw: true, a: 3, tag: "R APc"},
}

const rdbuffTag = "RDBUFF"

var rdbuffAccessID = accessID{apndp: false, rnw: true, a: 3, tag: rdbuffTag}

// parseSimpleAccessID matches everything a top-level "simple" command can
// be: any DP access, an AP write, or an unsolicited RDBUFF. It refuses to
// match an AP read, since those belong exclusively to the complex
// (chained-read) alternative.
func parseSimpleAccessID(content string) (accessID, bool) {
	if _, ok := apReadTags[content]; ok {
		return accessID{}, false
	}
	if v, ok := dpReadTags[content]; ok {
		return v, true
	}
	if content == rdbuffTag {
		return rdbuffAccessID, true
	}
	if v, ok := dpWriteTags[content]; ok {
		return v, true
	}
	if v, ok := apWriteTags[content]; ok {
		return v, true
	}
	return accessID{}, false
}

func parseComplexAccessID(content string) (accessID, bool) {
	v, ok := apReadTags[content]
	return v, ok
}

func parseRdbuffOnly(content string) (accessID, bool) {
	if content == rdbuffTag {
		return rdbuffAccessID, true
	}
	return accessID{}, false
}

// llOutcome is the result of parsing one low-level access element: a
// command line plus its OK/WAIT*/FAULT envelope.
type llOutcome struct {
	access      accessID
	start, end  uint64
	value       uint32
	ok          bool
	landmarkMsg string
}

// llParse parses one access element starting at lines[idx] using accessFn
// to recognize the command line. matched=false (lines untouched) means
// lines[idx] didn't match accessFn at all, signaling the caller to try a
// different grammar alternative; it is not itself an error.
func llParse(lines []line, idx int, accessFn func(string) (accessID, bool)) (out llOutcome, next int, matched bool, err error) {
	if idx >= len(lines) {
		return llOutcome{}, idx, false, nil
	}
	access, ok := accessFn(lines[idx].Content)
	if !ok {
		return llOutcome{}, idx, false, nil
	}
	start := lines[idx]
	idx++

	if idx >= len(lines) {
		return llOutcome{}, idx, true, fmt.Errorf("swdtext: expected OK/WAIT/FAULT after %q, reached end of input", access.tag)
	}
	switch lines[idx].Content {
	case "OK":
		out, next, err := finishOk(access, start, lines, idx+1)
		return out, next, true, err
	case "FAULT":
		return llOutcome{access: access, ok: false,
			landmarkMsg: fmt.Sprintf("FAULT occurred when trying to %s", access.tag)}, idx + 1, true, nil
	case "WAIT":
		out, next, err := resolveWait(access, start, lines, idx+1)
		return out, next, true, err
	default:
		return llOutcome{}, idx, true, fmt.Errorf("swdtext: expected OK/WAIT/FAULT after %q, got %q", access.tag, lines[idx].Content)
	}
}

func finishOk(access accessID, start line, lines []line, idx int) (llOutcome, int, error) {
	if idx >= len(lines) {
		return llOutcome{}, idx, fmt.Errorf("swdtext: expected a value line after OK for %s, reached end of input", access.tag)
	}
	value, err := parseHexValue(lines[idx].Content)
	if err != nil {
		return llOutcome{}, idx, fmt.Errorf("swdtext: %w", err)
	}
	return llOutcome{access: access, start: start.Start, end: lines[idx].End, value: value, ok: true}, idx + 1, nil
}

// resolveWait consumes a WAIT storm: zero or more further (repeat tag,
// WAIT) pairs, then one or more bare repeat-tag lines, then a final
// OK/FAULT. Running out of retries before a resolution, or finding
// anything other than a further retry of the same tag, ends the storm
// with no resolution.
func resolveWait(access accessID, start line, lines []line, idx int) (llOutcome, int, error) {
	for idx+1 < len(lines) && lines[idx].Content == access.tag && lines[idx+1].Content == "WAIT" {
		idx += 2
	}
	count := 0
	for idx < len(lines) && lines[idx].Content == access.tag {
		idx++
		count++
	}
	if count > 0 && idx < len(lines) {
		switch lines[idx].Content {
		case "OK":
			return finishOk(access, start, lines, idx+1)
		case "FAULT":
			return llOutcome{access: access, ok: false,
				landmarkMsg: fmt.Sprintf("FAULT occurred when trying to %s", access.tag)}, idx + 1, nil
		}
	}
	return llOutcome{access: access, ok: false,
		landmarkMsg: fmt.Sprintf("WAIT storm with no resolution when trying to %s", access.tag)}, idx, nil
}

func parseHexValue(content string) (uint32, error) {
	if !strings.HasPrefix(content, "0x") {
		return 0, fmt.Errorf("expected a 0x-prefixed value, got %q", content)
	}
	v, err := strconv.ParseUint(content[2:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed value %q: %w", content, err)
	}
	return uint32(v), nil
}

// Parse lowers a full sigrok-cli SWD transcript into the canonical
// adi.Input stream.
func Parse(input string) ([]adi.Input, error) {
	lines, err := scanLines(input)
	if err != nil {
		return nil, err
	}
	var out []adi.Input
	idx := 0
	for idx < len(lines) {
		switch lines[idx].Content {
		case "LINERESET", "JTAG->SWD":
			idx++
			continue
		}

		in, next, matched, err := trySimpleCommand(lines, idx)
		if err != nil {
			return nil, err
		}
		if matched {
			idx = next
			if in != nil {
				out = append(out, *in)
			}
			continue
		}

		ins, next, err := tryComplexCommand(lines, idx)
		if err != nil {
			return nil, err
		}
		if next == idx {
			return nil, fmt.Errorf("swdtext: unrecognized command %q at %d-%d", lines[idx].Content, lines[idx].Start, lines[idx].End)
		}
		idx = next
		out = append(out, ins...)
	}
	return out, nil
}

func trySimpleCommand(lines []line, idx int) (*adi.Input, int, bool, error) {
	if idx >= len(lines) {
		return nil, idx, false, nil
	}
	if _, ok := apReadTags[lines[idx].Content]; ok {
		return nil, idx, false, nil
	}
	outcome, next, matched, err := llParse(lines, idx, parseSimpleAccessID)
	if !matched {
		return nil, idx, false, err
	}
	if err != nil {
		return nil, next, true, err
	}
	if !outcome.ok {
		in := adi.LandmarkInput(outcome.landmarkMsg)
		return &in, next, true, nil
	}
	// RDBUFF is relevant only as the tail of a chained AP read (handled in
	// tryComplexCommand); an unsolicited one carries no command of its own.
	if outcome.access.tag == rdbuffTag {
		return nil, next, true, nil
	}
	in := adi.CommandInput(outcome.access.toCommand(outcome.start, outcome.end, outcome.value))
	return &in, next, true, nil
}

// tryComplexCommand parses one maximal run of chained AP reads followed by
// the RDBUFF that surfaces the last one's value. Each read in the chain
// reports its own value one position late: read i's Command takes its end
// timestamp and data from read i+1 (or, for the last read, from the
// trailing RDBUFF) -- this is how the target's single-deep read pipeline
// actually surfaces data on the wire.
func tryComplexCommand(lines []line, idx int) ([]adi.Input, int, error) {
	start := idx
	var outcomes []llOutcome
	for {
		outcome, next, matched, err := llParse(lines, idx, parseComplexAccessID)
		if err != nil {
			return nil, idx, err
		}
		if !matched {
			break
		}
		idx = next
		if !outcome.ok {
			// A FAULT or unresolved WAIT appearing mid-chain has no
			// real-world precedent; tolerate a trailing RDBUFF and drop
			// the whole chain behind a single landmark.
			if _, next2, matched2, err2 := llParse(lines, idx, parseRdbuffOnly); err2 == nil && matched2 {
				idx = next2
			}
			return []adi.Input{adi.LandmarkInput(outcome.landmarkMsg)}, idx, nil
		}
		outcomes = append(outcomes, outcome)
	}
	if len(outcomes) == 0 {
		return nil, start, nil
	}

	rdOutcome, next, matched, err := llParse(lines, idx, parseRdbuffOnly)
	if err != nil {
		return nil, idx, err
	}
	if !matched {
		return nil, idx, fmt.Errorf("swdtext: expected a trailing RDBUFF after %d chained AP read(s)", len(outcomes))
	}
	idx = next
	if !rdOutcome.ok {
		// The RDBUFF that would have surfaced the last read's value never
		// resolved; nothing can be merged, so the whole chain is dropped
		// behind a single landmark.
		return []adi.Input{adi.LandmarkInput(rdOutcome.landmarkMsg)}, idx, nil
	}

	ins := make([]adi.Input, len(outcomes))
	for i, o := range outcomes {
		end, value := rdOutcome.end, rdOutcome.value
		if i+1 < len(outcomes) {
			end, value = outcomes[i+1].end, outcomes[i+1].value
		}
		ins[i] = adi.CommandInput(o.access.toCommand(o.start, end, value))
	}
	return ins, idx, nil
}
