package cmsisdap

import (
	"strings"
	"testing"

	"github.com/OpenTraceLab/aditrace/pkg/adi"
)

func TestWriteAbortOk(t *testing.T) {
	pdml := `<pdml>
<packet>
  <proto name="frame"><field name="frame.number" show="1"/></proto>
  <proto name="usbdap">
    <field name="cmsis_dap.command" show="0x08"/>
    <field name="cmsis_dap.response" show="2"/>
    <field name="cmsis_dap.dap_index" show="0"/>
    <field name="cmsis_dap.write_abort" show="3735928559"/>
  </proto>
</packet>
<packet>
  <proto name="frame"><field name="frame.number" show="2"/></proto>
  <proto name="usbdap">
    <field name="cmsis_dap.command" show="0x08"/>
    <field name="cmsis_dap.request" show="1"/>
    <field name="cmsis_dap.status" show="0x00"/>
  </proto>
</packet>
</pdml>`
	ins, err := Parse(strings.NewReader(pdml))
	if err != nil {
		t.Fatal(err)
	}
	if len(ins) != 1 || ins[0].Command == nil {
		t.Fatalf("got %+v, want a single Command", ins)
	}
	got := *ins[0].Command
	want := adi.Command{APnDP: false, RnW: false, A: 0, Data: 0xDEADBEEF}
	if got.APnDP != want.APnDP || got.RnW != want.RnW || got.A != want.A || got.Data != want.Data || got.TS != nil {
		t.Errorf("got %+v, want %+v with nil TS", got, want)
	}
}

func TestSwjSequenceRequestParsed(t *testing.T) {
	p := Proto{Fields: []Field{
		{Name: "cmsis_dap.command", Show: "0x12"},
		{Name: "cmsis_dap.swj_sequence.count", Show: "0"},
		{Name: "cmsis_dap.swj_sequence.data", Show: "ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff:ff"},
	}}
	req := requestFromProto(p)
	if req.SwjSequence == nil {
		t.Fatal("expected SwjSequence to be populated")
	}
	if req.SwjSequence.BitCount != 256 {
		t.Errorf("count 0 should mean 256 bits, got %d", req.SwjSequence.BitCount)
	}
	if len(req.SwjSequence.BitData) != 32 {
		t.Errorf("expected 32 bytes (256/8), got %d", len(req.SwjSequence.BitData))
	}
}

func TestTransferBlockWaitTruncation(t *testing.T) {
	req := &DapTransferBlock{
		DapIndex:      0,
		TransferCount: 3,
		Request:       transferRequest{APnDP: true, RnW: false},
		Data:          []uint32{0x1, 0x2, 0x3},
	}
	resp := &DapTransferBlockResponse{TransferCount: 2, Ack: AckWait}

	ins := commandsFromTransferBlock(req, resp)
	// Ack=Wait means transfer_count-1 = 1 transfer actually completed.
	if len(ins) != 1 {
		t.Fatalf("got %d commands, want 1 (%+v)", len(ins), ins)
	}
	if ins[0].Command.Data != 0x1 {
		t.Errorf("got data %#x, want 0x1", ins[0].Command.Data)
	}
}

func TestTransferBlockOkTakesFullCount(t *testing.T) {
	req := &DapTransferBlock{
		TransferCount: 2,
		Request:       transferRequest{APnDP: true, RnW: true},
	}
	resp := &DapTransferBlockResponse{TransferCount: 2, Ack: AckOk, Data: []uint32{0xA, 0xB}}

	ins := commandsFromTransferBlock(req, resp)
	if len(ins) != 2 {
		t.Fatalf("got %d commands, want 2", len(ins))
	}
	if ins[0].Command.Data != 0xA || ins[1].Command.Data != 0xB {
		t.Errorf("got %+v", ins)
	}
}

func TestTransferBlockFaultDropsEverything(t *testing.T) {
	req := &DapTransferBlock{TransferCount: 4, Request: transferRequest{APnDP: true, RnW: true}}
	resp := &DapTransferBlockResponse{TransferCount: 4, Ack: AckFault}
	if ins := commandsFromTransferBlock(req, resp); ins != nil {
		t.Errorf("got %+v, want nil on fault", ins)
	}
}

func TestUnknownOpcodeLandmark(t *testing.T) {
	req := Request{HeaderByte: 0x7F, Unknown: &UnknownPayload{RawData: []byte{0x7F, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}}}
	resp := Response{HeaderByte: 0x7F, Unknown: &UnknownPayload{RawData: []byte{0x00}}}

	ins := commandsFromExchange(req, resp)
	if len(ins) != 1 || ins[0].Landmark == nil {
		t.Fatalf("got %+v, want a single Landmark", ins)
	}
	msg := ins[0].Landmark.Message
	if !strings.Contains(msg, "CMSIS-DAP Unknown") || !strings.Contains(msg, "0x7F") && !strings.Contains(msg, "0X7F") {
		t.Errorf("landmark message %q missing header byte", msg)
	}
	// request bytes truncated to 5.
	if strings.Count(msg, "0x06") > 0 || strings.Count(msg, "0X06") > 0 {
		t.Errorf("landmark message %q should truncate request data to 5 bytes", msg)
	}
}

func TestValidTransferCount(t *testing.T) {
	cases := []struct {
		ack   Ack
		count uint8
		want  int
	}{
		{AckOk, 5, 5},
		{AckOk, 0, 0},
		{AckWait, 5, 4},
		{AckWait, 0, 0},
		{AckFault, 5, 0},
		{AckNoAck, 5, 0},
	}
	for _, c := range cases {
		if got := validTransferCount(c.ack, c.count); got != c.want {
			t.Errorf("validTransferCount(%v, %d) = %d, want %d", c.ack, c.count, got, c.want)
		}
	}
}
