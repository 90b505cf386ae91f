package protocol

import (
	"bytes"
	"io"
	"testing"
)

func TestFrameRoundTrip_Start(t *testing.T) {
	msg := &StartMessage{
		Type:         MessageKindStart,
		InvocationID: "inv-1",
		Service:      "greeter",
		Method:       "Hello",
		KnownEntries: 3,
	}
	frame, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	decoder := NewFrameDecoder(bytes.NewReader(frame))
	payload, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	decoded, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	start, ok := decoded.(*StartMessage)
	if !ok {
		t.Fatalf("expected *StartMessage, got %T", decoded)
	}
	if start.InvocationID != "inv-1" || start.KnownEntries != 3 {
		t.Errorf("decoded = %+v", start)
	}
}

func TestFrameRoundTrip_MixedStream(t *testing.T) {
	var buf bytes.Buffer

	start, _ := EncodeMessage(&StartMessage{Type: MessageKindStart, InvocationID: "inv-1"})
	buf.Write(start)
	entry, _ := EncodeMessage(&EntryMessage{Type: MessageKindEntry, Index: 0, Kind: "call"})
	buf.Write(entry)
	suspend, _ := EncodeMessage(&SuspensionMessage{Type: MessageKindSuspension, WaitingOnEntries: []uint32{0}})
	buf.Write(suspend)
	completion, _ := EncodeMessage(&CompletionMessage{Type: MessageKindCompletion, EntryIdx: 0, Value: []byte("ok")})
	buf.Write(completion)

	decoder := NewFrameDecoder(&buf)
	var kinds []MessageKind
	for {
		payload, err := decoder.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		decoded, err := DecodeMessage(payload)
		if err != nil {
			t.Fatalf("DecodeMessage failed: %v", err)
		}
		switch m := decoded.(type) {
		case *StartMessage:
			kinds = append(kinds, m.Type)
		case *EntryMessage:
			kinds = append(kinds, m.Type)
		case *SuspensionMessage:
			kinds = append(kinds, m.Type)
		case *CompletionMessage:
			kinds = append(kinds, m.Type)
		}
	}

	want := []MessageKind{MessageKindStart, MessageKindEntry, MessageKindSuspension, MessageKindCompletion}
	if len(kinds) != len(want) {
		t.Fatalf("got %d messages, want %d", len(kinds), len(want))
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("message %d: got %q, want %q", i, kinds[i], k)
		}
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	oversized := EncodeFrame(make([]byte, 0))
	oversized[0] = 0xFF // corrupt the length prefix to exceed MaxPayloadSize
	decoder := NewFrameDecoder(bytes.NewReader(oversized))
	_, err := decoder.ReadFrame()
	if !IsFatalFrameError(err) {
		t.Fatalf("expected fatal frame error, got %v", err)
	}
}

func TestReadFrame_PartialLengthPrefix(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader([]byte{0, 0}))
	_, err := decoder.ReadFrame()
	if !IsFatalFrameError(err) {
		t.Fatalf("expected fatal frame error, got %v", err)
	}
}

func TestReadFrame_CleanEOF(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader(nil))
	_, err := decoder.ReadFrame()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
