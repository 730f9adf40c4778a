// Package cmsisdap lowers a Wireshark PDML dissection of CMSIS-DAP USB
// traffic into the canonical adi.Input stream: it pairs each request frame
// with its response, expands DapTransfer/DapTransferBlock into individual
// DP/AP accesses (honoring WAIT-truncation), and turns DapWriteAbort and
// unrecognized opcodes into their respective commands/landmarks.
package cmsisdap

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/aditrace/internal/diag"
	"github.com/OpenTraceLab/aditrace/pkg/adi"
)

// frame is one dissected USB packet classified as a CMSIS-DAP request or
// response, paired with the frame it corresponds to.
type frame struct {
	number    int
	request   *requestFrame
	response  *responseFrame
}

type requestFrame struct {
	content                Request
	correspondingResponse int
}

type responseFrame struct {
	content               Response
	correspondingRequest int
}

// frameFromPacket classifies a PDML packet. ok is false for any packet
// that is not a CMSIS-DAP frame at all (e.g. enumeration traffic).
func frameFromPacket(packet Packet) (frame, bool) {
	var number int
	var haveNumber bool
	var dap Proto
	var haveDap bool
	for _, proto := range packet.Protos {
		if proto.Name == "frame" {
			if f, ok := proto.find("frame.number"); ok {
				n, err := strconv.Atoi(f.Show)
				if err == nil {
					number, haveNumber = n, true
				}
			}
		}
		if proto.Name == "usbdap" {
			dap, haveDap = proto, true
		}
	}
	if !haveNumber || !haveDap {
		return frame{}, false
	}

	var reqCount, respCount int
	reqField, haveReq := dap.find("cmsis_dap.response")
	respField, haveResp := dap.find("cmsis_dap.request")
	if haveReq {
		reqCount, _ = strconv.Atoi(reqField.Show)
	}
	if haveResp {
		respCount, _ = strconv.Atoi(respField.Show)
	}

	switch {
	case haveReq:
		return frame{number: number, request: &requestFrame{
			content:                requestFromProto(dap),
			correspondingResponse: reqCount,
		}}, true
	case haveResp:
		return frame{number: number, response: &responseFrame{
			content:               responseFromProto(dap),
			correspondingRequest: respCount,
		}}, true
	default:
		diag.Debug("frame %d: usbdap proto present but neither request nor response marker found", number)
		return frame{}, false
	}
}

func commandHeaderByte(p Proto) byte {
	f, ok := p.find("cmsis_dap.command")
	if !ok {
		return 0
	}
	v, _ := strconv.ParseUint(strings.TrimPrefix(f.Show, "0x"), 16, 8)
	return byte(v)
}

func rawDataFromProto(p Proto) []byte {
	f, ok := p.find("cmsis_dap.unknown")
	if !ok {
		return nil
	}
	var out []byte
	for _, part := range strings.Split(f.Show, ":") {
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			continue
		}
		out = append(out, byte(v))
	}
	return out
}

func requestFromProto(p Proto) Request {
	header := commandHeaderByte(p)
	req := Request{HeaderByte: header}
	switch Opcode(header) {
	case OpDapTransfer:
		req.Transfer = dapTransferRequestFromProto(p)
	case OpDapTransferBlock:
		req.TransferBlock = dapTransferBlockRequestFromProto(p)
	case OpDapWriteAbort:
		req.WriteAbort = dapWriteAbortRequestFromProto(p)
	case OpDapSwjSequence:
		req.SwjSequence = dapSwjSequenceRequestFromProto(p)
	case OpDapConnect, OpDapDisconnect, OpDapTransferConfigure,
		OpDapSwjClock, OpDapSwdConfigure:
		// Parsed only far enough to classify; these never surface a command.
	default:
		req.Unknown = &UnknownPayload{RawData: rawDataFromProto(p)}
	}
	return req
}

func responseFromProto(p Proto) Response {
	header := commandHeaderByte(p)
	resp := Response{HeaderByte: header}
	switch Opcode(header) {
	case OpDapTransfer:
		resp.Transfer = dapTransferResponseFromProto(p)
	case OpDapTransferBlock:
		resp.TransferBlock = dapTransferBlockResponseFromProto(p)
	case OpDapWriteAbort:
		resp.WriteAbort = &DapWriteAbortResponse{Status: statusFromProto(p)}
	case OpDapConnect, OpDapDisconnect, OpDapTransferConfigure,
		OpDapSwjClock, OpDapSwjSequence, OpDapSwdConfigure:
	default:
		resp.Unknown = &UnknownPayload{RawData: rawDataFromProto(p)}
	}
	return resp
}

func statusFromProto(p Proto) Status {
	f, ok := p.find("cmsis_dap.status")
	if !ok {
		return StatusErr
	}
	v, _ := strconv.ParseUint(strings.TrimPrefix(f.Show, "0x"), 16, 8)
	return Status(v)
}

func dapIndexFromProto(p Proto) uint8 {
	f, ok := p.find("cmsis_dap.dap_index")
	if !ok {
		return 0
	}
	v, _ := strconv.ParseUint(f.Show, 10, 8)
	return uint8(v)
}

func dapTransferRequestFromProto(p Proto) *DapTransfer {
	out := &DapTransfer{DapIndex: dapIndexFromProto(p)}
	if f, ok := p.find("cmsis_dap.transfer.count"); ok {
		v, _ := strconv.ParseUint(f.Show, 10, 8)
		out.TransferCount = uint8(v)
	}
	for _, group := range p.findAll("cmsis_dap.transfer") {
		for _, f := range group.Fields {
			switch f.Name {
			case "cmsis_dap.transfer.request":
				v, _ := strconv.ParseUint(strings.TrimPrefix(f.Show, "0x"), 16, 8)
				out.Transfers = append(out.Transfers, DapSingleTransfer{Request: transferRequestFromByte(uint8(v))})
			case "cmsis_dap.transfer.write.data":
				if len(out.Transfers) == 0 {
					continue
				}
				v, err := strconv.ParseUint(f.Show, 10, 32)
				if err != nil {
					continue
				}
				data := uint32(v)
				out.Transfers[len(out.Transfers)-1].Data = &data
			}
		}
	}
	return out
}

func dapTransferResponseFromProto(p Proto) *DapTransferResponse {
	out := &DapTransferResponse{}
	if f, ok := p.find("cmsis_dap.transfer.count"); ok {
		v, _ := strconv.ParseUint(f.Show, 10, 8)
		out.TransferCount = uint8(v)
	}
	if f, ok := p.find("cmsis_dap.transfer.response"); ok {
		v, _ := strconv.ParseUint(strings.TrimPrefix(f.Show, "0x"), 16, 8)
		out.Ack = Ack(v & 0b111)
		out.ProtocolError = v&(1<<3) != 0
		out.ValueMismatch = v&(1<<4) != 0
	}
	for _, f := range p.findAll("cmsis_dap.transfer.read.data") {
		v, err := strconv.ParseUint(f.Show, 10, 32)
		if err != nil {
			continue
		}
		out.Data = append(out.Data, uint32(v))
	}
	return out
}

func dapTransferBlockRequestFromProto(p Proto) *DapTransferBlock {
	out := &DapTransferBlock{DapIndex: dapIndexFromProto(p)}
	if f, ok := p.find("cmsis_dap.transfer_block.count"); ok {
		v, _ := strconv.ParseUint(f.Show, 10, 16)
		out.TransferCount = uint16(v)
	}
	if f, ok := p.find("cmsis_dap.transfer.request"); ok {
		v, _ := strconv.ParseUint(strings.TrimPrefix(f.Show, "0x"), 16, 8)
		out.Request = transferRequestFromByte(uint8(v))
	}
	for _, f := range p.findAll("cmsis_dap.transfer.write.data") {
		v, err := strconv.ParseUint(f.Show, 10, 32)
		if err != nil {
			continue
		}
		out.Data = append(out.Data, uint32(v))
	}
	return out
}

func dapTransferBlockResponseFromProto(p Proto) *DapTransferBlockResponse {
	out := &DapTransferBlockResponse{}
	if f, ok := p.find("cmsis_dap.transfer_block.count"); ok {
		v, _ := strconv.ParseUint(f.Show, 10, 8)
		out.TransferCount = uint8(v)
	}
	if f, ok := p.find("cmsis_dap.transfer.response"); ok {
		v, _ := strconv.ParseUint(strings.TrimPrefix(f.Show, "0x"), 16, 8)
		out.Ack = Ack(v & 0b111)
		out.ProtocolError = v&(1<<3) != 0
	}
	for _, f := range p.findAll("cmsis_dap.transfer.read.data") {
		v, err := strconv.ParseUint(f.Show, 10, 32)
		if err != nil {
			continue
		}
		out.Data = append(out.Data, uint32(v))
	}
	return out
}

func dapWriteAbortRequestFromProto(p Proto) *DapWriteAbort {
	out := &DapWriteAbort{DapIndex: dapIndexFromProto(p)}
	if f, ok := p.find("cmsis_dap.write_abort"); ok {
		v, _ := strconv.ParseUint(f.Show, 10, 32)
		out.Abort = uint32(v)
	}
	return out
}

func dapSwjSequenceRequestFromProto(p Proto) *DapSwjSequence {
	var bitCount int
	if f, ok := p.find("cmsis_dap.swj_sequence.count"); ok {
		v, _ := strconv.Atoi(f.Show)
		if v == 0 {
			v = 256
		}
		bitCount = v
	}
	var bitData []byte
	if f, ok := p.find("cmsis_dap.swj_sequence.data"); ok {
		for _, part := range strings.Split(f.Show, ":") {
			v, err := strconv.ParseUint(part, 16, 8)
			if err != nil {
				continue
			}
			bitData = append(bitData, byte(v))
		}
		if n := (bitCount + 7) / 8; n < len(bitData) {
			bitData = bitData[:n]
		}
	}
	return &DapSwjSequence{BitCount: bitCount, BitData: bitData}
}

// pendingRequest is the single in-flight request the adapter tracks while
// waiting for its paired response frame.
type pendingRequest struct {
	frameNumber            int
	content                Request
	correspondingResponse int
}

// Parse reads a PDML document and lowers it to the canonical adi.Input
// stream.
func Parse(r io.Reader) ([]adi.Input, error) {
	var doc Pdml
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("cmsisdap: decode pdml: %w", err)
	}

	var out []adi.Input
	var waiting *pendingRequest
	for _, packet := range doc.Packets {
		f, ok := frameFromPacket(packet)
		if !ok {
			continue
		}

		switch {
		case waiting != nil && f.response != nil:
			resp := f.response
			if waiting.frameNumber != resp.correspondingRequest {
				diag.Warn("frame numbers do not match (res->req: %d, req: %d)", resp.correspondingRequest, waiting.frameNumber)
				waiting = nil
				continue
			}
			if f.number != waiting.correspondingResponse {
				diag.Warn("frame numbers do not match (res: %d, req->res: %d)", f.number, waiting.correspondingResponse)
				waiting = nil
				continue
			}
			out = append(out, commandsFromExchange(waiting.content, resp.content)...)
			waiting = nil
		case waiting == nil && f.request != nil:
			waiting = &pendingRequest{
				frameNumber:            f.number,
				content:                f.request.content,
				correspondingResponse: f.request.correspondingResponse,
			}
		default:
			diag.Error("cmsisdap: unexpected pairing state at frame %d", f.number)
		}
	}
	return out, nil
}

// commandsFromExchange turns one resolved request/response pair into the
// Commands (or Landmark) it represents.
func commandsFromExchange(req Request, resp Response) []adi.Input {
	switch {
	case req.Transfer != nil && resp.Transfer != nil:
		return commandsFromTransfer(req.Transfer, resp.Transfer)
	case req.TransferBlock != nil && resp.TransferBlock != nil:
		return commandsFromTransferBlock(req.TransferBlock, resp.TransferBlock)
	case req.WriteAbort != nil && resp.WriteAbort != nil:
		if resp.WriteAbort.Status != StatusOk {
			diag.Warn("DapWriteAbort response is Err, skipping")
			return nil
		}
		return []adi.Input{adi.CommandInput(adi.Command{APnDP: false, RnW: false, A: 0, Data: req.WriteAbort.Abort})}
	case req.Unknown != nil && resp.Unknown != nil:
		return []adi.Input{adi.LandmarkInput("%s", unknownCommandLandmark(commandHeaderByteOf(req), req.Unknown.RawData, resp.Unknown.RawData))}
	default:
		diag.Info("unhandled or mismatched CMSIS-DAP exchange: req=%#x resp=%#x", req.HeaderByte, resp.HeaderByte)
		return nil
	}
}

func commandHeaderByteOf(req Request) byte { return req.HeaderByte }

// unknownCommandLandmark renders an unrecognized opcode's request/response
// bytes, each truncated to the first 5 bytes, exactly as the format the
// driver surfaces to a user investigating a capture.
func unknownCommandLandmark(headerByte byte, reqData, respData []byte) string {
	return fmt.Sprintf("CMSIS-DAP Unknown <%#02X> / req: %s / res: %s",
		headerByte, hexBytes(truncate5(reqData)), hexBytes(truncate5(respData)))
}

func truncate5(b []byte) []byte {
	if len(b) > 5 {
		return b[:5]
	}
	return b
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%#02X", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// commandsFromTransfer expands a DapTransfer exchange into one Command per
// valid transfer, where "valid" accounts for a WAIT-truncated response: on
// Ack.Ok every requested transfer is valid, on Ack.Wait only
// transfer_count-1 are (saturating at 0).
func commandsFromTransfer(req *DapTransfer, resp *DapTransferResponse) []adi.Input {
	if resp.Ack == AckFault || resp.Ack == AckNoAck || resp.ProtocolError || resp.ValueMismatch {
		diag.Warn("DapTransfer response is faulty, skipping")
		return nil
	}
	valid := validTransferCount(resp.Ack, resp.TransferCount)
	if valid > len(req.Transfers) {
		valid = len(req.Transfers)
	}
	var out []adi.Input
	readIdx := 0
	for i := 0; i < valid; i++ {
		transfer := req.Transfers[i]
		var data uint32
		if transfer.Request.RnW {
			if readIdx >= len(resp.Data) {
				diag.Error("DapTransfer response is missing read data for transfer %d", i)
				break
			}
			data = resp.Data[readIdx]
			readIdx++
		} else if transfer.Data != nil {
			data = *transfer.Data
		}
		out = append(out, adi.CommandInput(adi.Command{
			APnDP: transfer.Request.APnDP,
			RnW:   transfer.Request.RnW,
			A:     transfer.Request.a(),
			Data:  data,
		}))
	}
	return out
}

func commandsFromTransferBlock(req *DapTransferBlock, resp *DapTransferBlockResponse) []adi.Input {
	if resp.Ack == AckFault || resp.Ack == AckNoAck || resp.ProtocolError {
		diag.Warn("DapTransferBlock response is faulty, skipping")
		return nil
	}
	valid := validTransferCount(resp.Ack, resp.TransferCount)
	source := req.Data
	if req.Request.RnW {
		source = resp.Data
	}
	if valid > len(source) {
		valid = len(source)
	}
	out := make([]adi.Input, 0, valid)
	for i := 0; i < valid; i++ {
		out = append(out, adi.CommandInput(adi.Command{
			APnDP: req.Request.APnDP,
			RnW:   req.Request.RnW,
			A:     req.Request.a(),
			Data:  source[i],
		}))
	}
	return out
}

// validTransferCount applies the CMSIS-DAP WAIT-truncation rule: an Ok ack
// means the full requested count completed; a Wait ack means only
// transfer_count-1 did (the in-flight transfer that triggered the WAIT is
// not valid), saturating at 0.
func validTransferCount(ack Ack, transferCount uint8) int {
	switch ack {
	case AckOk:
		return int(transferCount)
	case AckWait:
		if transferCount == 0 {
			return 0
		}
		return int(transferCount) - 1
	default:
		return 0
	}
}
