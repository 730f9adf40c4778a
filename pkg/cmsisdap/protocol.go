package cmsisdap

import "fmt"

// Opcode is the CMSIS-DAP command byte that opens every request/response
// pair.
type Opcode byte

const (
	OpDapInfo              Opcode = 0x00
	OpDapHostStatus        Opcode = 0x01
	OpDapConnect           Opcode = 0x02
	OpDapDisconnect        Opcode = 0x03
	OpDapTransferConfigure Opcode = 0x04
	OpDapTransfer          Opcode = 0x05
	OpDapTransferBlock     Opcode = 0x06
	OpDapTransferAbort     Opcode = 0x07
	OpDapWriteAbort        Opcode = 0x08
	OpDapSwjClock          Opcode = 0x11
	OpDapSwjSequence       Opcode = 0x12
	OpDapSwdConfigure      Opcode = 0x13
)

// Ack is the 3-bit SWD acknowledgment code a DapTransfer(Block) response
// carries.
type Ack uint8

const (
	AckOk    Ack = 1
	AckWait  Ack = 2
	AckFault Ack = 4
	AckNoAck Ack = 7
)

func (a Ack) String() string {
	switch a {
	case AckOk:
		return "OK"
	case AckWait:
		return "WAIT"
	case AckFault:
		return "FAULT"
	case AckNoAck:
		return "NO_ACK"
	default:
		return fmt.Sprintf("Ack(%#x)", uint8(a))
	}
}

// Status is the 1-byte result code carried by control-opcode responses
// (DapConnect, DapDisconnect, ...).
type Status uint8

const (
	StatusOk  Status = 0x00
	StatusErr Status = 0xFF
)

// transferRequest is the 1-byte per-transfer request descriptor shared by
// DapTransfer and DapTransferBlock.
type transferRequest struct {
	APnDP      bool
	RnW        bool
	A2         bool
	A3         bool
	ValueMatch bool
	MatchMask  bool
}

func transferRequestFromByte(v uint8) transferRequest {
	return transferRequest{
		APnDP:      v&(1<<0) != 0,
		RnW:        v&(1<<1) != 0,
		A2:         v&(1<<2) != 0,
		A3:         v&(1<<3) != 0,
		ValueMatch: v&(1<<4) != 0,
		MatchMask:  v&(1<<5) != 0,
	}
}

func (r transferRequest) a() uint8 {
	a := uint8(0)
	if r.A3 {
		a |= 0b10
	}
	if r.A2 {
		a |= 0b01
	}
	return a
}

// DapSingleTransfer is one element of a DapTransfer request's transfer list.
type DapSingleTransfer struct {
	Request transferRequest
	Data    *uint32 // present for a write, or a match/mask transfer
}

// DapTransfer is the request payload of opcode 0x05.
type DapTransfer struct {
	DapIndex      uint8
	TransferCount uint8
	Transfers     []DapSingleTransfer
}

// DapTransferResponse is the response payload of opcode 0x05.
type DapTransferResponse struct {
	TransferCount uint8
	Ack           Ack
	ProtocolError bool
	ValueMismatch bool
	Data          []uint32
}

// DapTransferBlock is the request payload of opcode 0x06: a single
// transfer descriptor repeated TransferCount times.
type DapTransferBlock struct {
	DapIndex      uint8
	TransferCount uint16
	Request       transferRequest
	Data          []uint32 // populated for a write
}

// DapTransferBlockResponse is the response payload of opcode 0x06.
type DapTransferBlockResponse struct {
	TransferCount uint8
	Ack           Ack
	ProtocolError bool
	Data          []uint32
}

// DapWriteAbort is the request payload of opcode 0x08.
type DapWriteAbort struct {
	DapIndex uint8
	Abort    uint32
}

// DapWriteAbortResponse is the response payload of opcode 0x08.
type DapWriteAbortResponse struct {
	Status Status
}

// DapSwjSequence is the request payload of opcode 0x12. It never produces
// a Command (no DP/AP register is touched), but is parsed far enough to
// classify the frame: a bit count (0 means 256) and the ceil(count/8)
// bytes of sequence data.
type DapSwjSequence struct {
	BitCount int
	BitData  []byte
}

// Request is a decoded CMSIS-DAP request frame. Exactly one payload field
// is populated for opcodes this adapter acts on; everything else only
// carries HeaderByte (and Unknown for genuinely unrecognized opcodes).
type Request struct {
	HeaderByte    byte
	Transfer      *DapTransfer
	TransferBlock *DapTransferBlock
	WriteAbort    *DapWriteAbort
	SwjSequence   *DapSwjSequence
	Unknown       *UnknownPayload
}

// Response is the response-side counterpart of Request.
type Response struct {
	HeaderByte    byte
	Transfer      *DapTransferResponse
	TransferBlock *DapTransferBlockResponse
	WriteAbort    *DapWriteAbortResponse
	Unknown       *UnknownPayload
}

// UnknownPayload carries all the raw bytes of an opcode this adapter does
// not recognize; only the Landmark rendering truncates them to the first 5.
type UnknownPayload struct {
	RawData []byte
}
