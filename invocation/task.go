// Package invocation drives one invocation's bidirectional HTTP/2 stream
// to a user service handler: it opens the request, replays the journal
// entries the service needs to resume, and streams new entries, timers,
// and calls back as the handler emits them, until the handler completes,
// suspends, or the stream fails.
//
// Grounded on the teacher's ExecutorManager (runtime/executor.go), which
// owns a single child process's stdin/stdout pipes for the duration of a
// run; here the "child" is a remote HTTP/2 peer instead of a local
// process, and io.Pipe plays the role exec.Cmd's StdinPipe played there.
package invocation

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/justapithecus/restwork/errs"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/logging"
	"github.com/justapithecus/restwork/protocol"
	"github.com/justapithecus/restwork/traceid"
)

// responseContentType is the media type a handler's response must carry
// for its body to be treated as a valid protocol stream, per the
// invocation task's response-validation requirement: HTTP status 2xx and
// this content type, or the response is Failed(Unexpected*).
const responseContentType = "application/restate"

// TerminalKind classifies how an invocation task ended, per the
// termination mapping: a graceful stream close, a voluntary suspension
// awaiting completions, or a failure.
type TerminalKind int

const (
	TerminalClosed TerminalKind = iota
	TerminalSuspended
	TerminalFailed
)

// Outcome is the result of running an invocation task to completion.
type Outcome struct {
	Kind             TerminalKind
	Response         []byte
	WaitingOnEntries []uint32 // set only when Kind == TerminalSuspended
	Err              error    // set only when Kind == TerminalFailed
}

// Target names the invocation to drive and the resolved HTTP endpoint of
// the service handling it.
type Target struct {
	InvocationID ids.InvocationID
	Service      ids.ServiceID
	Method       string
	Endpoint     string
	Key          string
}

// JournalEntry is a previously recorded entry replayed to the handler so
// it can resume exactly where it left off instead of re-executing
// already-observed side effects.
type JournalEntry struct {
	Index   uint32
	Kind    string
	Payload []byte
}

// EntryObserver is notified synchronously as new journal entries arrive
// from the handler, before the task decides whether they are terminal.
type EntryObserver func(JournalEntry)

// Config configures how a Task opens and drives its HTTP/2 stream.
type Config struct {
	Client         *http.Client
	RequestTimeout time.Duration
	OnEntry        EntryObserver
}

// DefaultClient returns an *http.Client configured to speak HTTP/2 in the
// clear (h2c) over an http2.Transport, which gives the full-duplex
// request/response streaming this package relies on. Its dialer opens a
// plain TCP connection for every endpoint, https URLs included; it does
// not negotiate TLS.
func DefaultClient() *http.Client {
	h2Transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	return &http.Client{Transport: h2Transport}
}

// Task drives one invocation's HTTP/2 request/response stream.
type Task struct {
	target  Target
	journal []JournalEntry
	cfg     Config
	logger  *logging.Logger

	completions chan *protocol.CompletionMessage
	cancel      context.CancelFunc
}

// New constructs a Task for target, seeded with the journal entries
// already known from prior replay so the handler does not re-run
// already-completed side effects.
func New(target Target, known []JournalEntry, cfg Config, logger *logging.Logger) *Task {
	if cfg.Client == nil {
		cfg.Client = DefaultClient()
	}
	return &Task{
		target:      target,
		journal:     known,
		cfg:         cfg,
		logger:      logger,
		completions: make(chan *protocol.CompletionMessage, 16),
	}
}

// Complete delivers a completion for a previously suspended entry index.
// Safe to call at most once per entry index; delivering to a task that
// has already terminated is a silent no-op.
func (t *Task) Complete(msg *protocol.CompletionMessage) {
	select {
	case t.completions <- msg:
	default:
	}
}

// Abort cancels the task's context without waiting for the goroutine
// driving Run to unwind. Run observes the cancellation and returns a
// TerminalFailed outcome wrapping context.Canceled.
func (t *Task) Abort() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Run opens the HTTP/2 stream, replays the known journal, and drives the
// bidi exchange to a terminal outcome. Run is not safe to call more than
// once per Task.
func (t *Task) Run(ctx context.Context) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	defer cancel()

	if t.cfg.RequestTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, t.cfg.RequestTimeout)
		defer timeoutCancel()
	}

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.target.Endpoint, pr)
	if err != nil {
		return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrOther, "invocation.Run", fmt.Errorf("build request: %w", err))}
	}
	req.Header.Set("content-type", "application/vnd.restwork.invocation+msgpack")
	trace := traceid.Derive(t.target.InvocationID)
	span := uuid.New()
	req.Header.Set("traceparent", traceid.Traceparent(trace, hex.EncodeToString(span[:8])))

	writeErrs := make(chan error, 1)
	go t.writeLoop(ctx, pw, writeErrs)

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return t.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrUnexpectedResponse, "invocation.Run", fmt.Errorf("unexpected status %d", resp.StatusCode))}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, responseContentType) {
		return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrUnexpectedContentType, "invocation.Run", fmt.Errorf("unexpected content-type %q", ct))}
	}

	outcome := t.readLoop(resp.Body)
	select {
	case err := <-writeErrs:
		if outcome.Kind == TerminalFailed && outcome.Err == nil {
			outcome.Err = err
		}
	default:
	}
	return outcome
}

// writeLoop sends the Start message, the replayed journal, and any
// completions that arrive on t.completions, until ctx is canceled or the
// pipe is closed by the reader side returning.
func (t *Task) writeLoop(ctx context.Context, pw *io.PipeWriter, errCh chan<- error) {
	defer close(errCh)

	start := &protocol.StartMessage{
		Type:         protocol.MessageKindStart,
		InvocationID: string(t.target.InvocationID),
		Service:      string(t.target.Service),
		Method:       t.target.Method,
		Key:          t.target.Key,
		KnownEntries: uint32(len(t.journal)),
	}
	if err := writeMessage(pw, start); err != nil {
		pw.CloseWithError(err)
		errCh <- err
		return
	}

	for _, e := range t.journal {
		entry := &protocol.EntryMessage{Type: protocol.MessageKindEntry, Index: e.Index, Kind: e.Kind, Payload: e.Payload}
		if err := writeMessage(pw, entry); err != nil {
			pw.CloseWithError(err)
			errCh <- err
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			pw.CloseWithError(ctx.Err())
			return
		case completion, ok := <-t.completions:
			if !ok {
				pw.Close()
				return
			}
			if err := writeMessage(pw, completion); err != nil {
				pw.CloseWithError(err)
				errCh <- err
				return
			}
		}
	}
}

func writeMessage(w io.Writer, msg any) error {
	frame, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// readLoop consumes response frames until a terminal message (a response
// entry or a suspension) arrives, or the stream ends without one.
func (t *Task) readLoop(body io.Reader) Outcome {
	decoder := protocol.NewFrameDecoder(body)
	for {
		payload, err := decoder.ReadFrame()
		if err == io.EOF {
			return Outcome{Kind: TerminalClosed}
		}
		if err != nil {
			if protocol.IsFatalFrameError(err) {
				return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrEncoding, "invocation.readLoop", err)}
			}
			return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrEncoding, "invocation.readLoop", err)}
		}

		decoded, err := protocol.DecodeMessage(payload)
		if err != nil {
			return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrEncoding, "invocation.readLoop", err)}
		}

		switch m := decoded.(type) {
		case *protocol.EntryMessage:
			entry := JournalEntry{Index: m.Index, Kind: m.Kind, Payload: m.Payload}
			t.journal = append(t.journal, entry)
			if t.cfg.OnEntry != nil {
				t.cfg.OnEntry(entry)
			}
			if m.Kind == "response" {
				return Outcome{Kind: TerminalClosed, Response: m.Payload}
			}
		case *protocol.SuspensionMessage:
			return Outcome{Kind: TerminalSuspended, WaitingOnEntries: m.WaitingOnEntries}
		case *protocol.CompletionMessage:
			// A completion arriving on the read side would indicate the
			// handler echoed one back; the protocol does not use this
			// direction, so treat it as a decode-level surprise.
			return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrUnexpectedMessage, "invocation.readLoop", fmt.Errorf("unexpected completion message from handler"))}
		case *protocol.StartMessage:
			return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrUnexpectedMessage, "invocation.readLoop", fmt.Errorf("unexpected start message from handler"))}
		}
	}
}

// classifyTransportError maps an HTTP/2 stream error to Closed or Failed
// per the graceful-reason detection carried over from the original
// implementation: a stream reset with NO_ERROR or CANCEL is a graceful
// close, anything else is a network failure.
func (t *Task) classifyTransportError(err error) Outcome {
	var streamErr http2.StreamError
	if ok := asStreamError(err, &streamErr); ok {
		if streamErr.Code == http2.ErrCodeNo || streamErr.Code == http2.ErrCodeCancel {
			return Outcome{Kind: TerminalClosed}
		}
	}
	return Outcome{Kind: TerminalFailed, Err: errs.NewInvocationTaskError(errs.ErrNetwork, "invocation.Run", err)}
}

func asStreamError(err error, target *http2.StreamError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if se, ok := err.(http2.StreamError); ok {
			*target = se
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
