// Package protocol implements the invocation task's wire framing: a
// length-prefixed msgpack scheme carried over an HTTP/2 request/response
// body.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size limits. A journal entry payload (e.g. a large side-effect
// result) is expected to dominate; the ceiling exists to bound a single
// malformed or hostile frame, not to model any real traffic shape.
const (
	MaxFrameSize     = 16 * 1024 * 1024
	MaxPayloadSize   = MaxFrameSize - LengthPrefixSize
	LengthPrefixSize = 4
)

// MessageKind discriminates the four invocation-task message kinds.
type MessageKind string

const (
	MessageKindStart      MessageKind = "start"
	MessageKindCompletion MessageKind = "completion"
	MessageKindSuspension MessageKind = "suspension"
	MessageKindEntry      MessageKind = "entry"
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	FrameErrorPartial FrameErrorKind = iota
	FrameErrorTooLarge
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether the stream must be torn down: a partial or
// oversized frame leaves the stream in an unrecoverable position.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err is a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.IsFatal()
	}
	return false
}

// StartMessage opens an invocation task: the target, the prior journal
// length known to the caller, and any state map entries the invoked
// service needs before it can resume.
type StartMessage struct {
	Type            MessageKind       `msgpack:"type"`
	InvocationID    string            `msgpack:"invocation_id"`
	Service         string            `msgpack:"service"`
	Method          string            `msgpack:"method"`
	Key             string            `msgpack:"key,omitempty"`
	KnownEntries    uint32            `msgpack:"known_entries"`
	StateMapEntries map[string][]byte `msgpack:"state_map_entries,omitempty"`
}

// CompletionMessage resolves a previously suspended journal entry (an
// awaitable side effect, sleep, or call) with either a success value or a
// failure.
type CompletionMessage struct {
	Type      MessageKind `msgpack:"type"`
	EntryIdx  uint32      `msgpack:"entry_index"`
	Value     []byte      `msgpack:"value,omitempty"`
	Failure   string      `msgpack:"failure,omitempty"`
}

// SuspensionMessage tells the partition processor the invocation gave up
// the HTTP/2 stream pending completions for the listed entry indexes.
type SuspensionMessage struct {
	Type             MessageKind `msgpack:"type"`
	WaitingOnEntries []uint32    `msgpack:"waiting_on_entries"`
}

// EntryMessage is one journal entry emitted by the invoked service
// (a side effect, timer, outgoing call, or the final response).
type EntryMessage struct {
	Type    MessageKind `msgpack:"type"`
	Index   uint32      `msgpack:"index"`
	Kind    string      `msgpack:"kind"`
	Payload []byte      `msgpack:"payload,omitempty"`
}

// FrameDecoder decodes length-prefixed msgpack frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder wraps r with a bufio.Reader unless it already is one,
// reducing syscall overhead reading from an HTTP/2 response body.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{reader: br}
}

// ReadFrame reads one frame and returns its raw msgpack payload.
//
// Returns io.EOF when the stream ended cleanly between frames; any other
// error is a *FrameError.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize)}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// probeMessageKind extracts the "type" field from a msgpack map without
// fully unmarshaling the payload.
func probeMessageKind(payload []byte) (MessageKind, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return "", err
	}
	for range n {
		key, err := dec.DecodeString()
		if err != nil {
			return "", err
		}
		if key == "type" {
			s, err := dec.DecodeString()
			return MessageKind(s), err
		}
		if err := dec.Skip(); err != nil {
			return "", err
		}
	}
	return "", errors.New("missing type field")
}

// DecodeMessage decodes a raw payload into one of the four typed messages,
// discriminated by its "type" field.
func DecodeMessage(payload []byte) (any, error) {
	kind, err := probeMessageKind(payload)
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode message type", Err: err}
	}

	switch kind {
	case MessageKindStart:
		var m StartMessage
		if err := msgpack.Unmarshal(payload, &m); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode start message", Err: err}
		}
		return &m, nil
	case MessageKindCompletion:
		var m CompletionMessage
		if err := msgpack.Unmarshal(payload, &m); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode completion message", Err: err}
		}
		return &m, nil
	case MessageKindSuspension:
		var m SuspensionMessage
		if err := msgpack.Unmarshal(payload, &m); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode suspension message", Err: err}
		}
		return &m, nil
	case MessageKindEntry:
		var m EntryMessage
		if err := msgpack.Unmarshal(payload, &m); err != nil {
			return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode entry message", Err: err}
		}
		return &m, nil
	default:
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unknown message type %q", kind)}
	}
}

// EncodeFrame prefixes payload with its 4-byte big-endian length.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// EncodeMessage msgpack-encodes msg and frames it with a length prefix.
// msg must be one of *StartMessage, *CompletionMessage, *SuspensionMessage,
// or *EntryMessage with its Type field already set.
func EncodeMessage(msg any) ([]byte, error) {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode message: %w", err)
	}
	return EncodeFrame(payload), nil
}
