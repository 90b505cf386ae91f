// Package ledger declares the replicated-log interface the partition
// processor consumes. The log itself — replication, trimming, sealing — is
// out of scope per spec §1; this package only fixes the narrow surface
// (find_tail, create_reader) and supplies an in-memory fake used by tests.
package ledger

import "context"

// RecordKind discriminates a LogRecord. The core only understands Data;
// TrimGap and Seal are unrecoverable surface conditions until explicitly
// supported (spec §4.4, §7).
type RecordKind uint8

const (
	RecordData RecordKind = iota
	RecordTrimGap
	RecordSeal
)

// LogRecord is one record read from a log reader.
type LogRecord struct {
	Kind RecordKind
	LSN  uint64
	Data []byte
}

// TailInfo describes the current tail of a log.
type TailInfo struct {
	Offset uint64
}

// Reader streams LogRecords from a log starting at From, exclusive of To
// (To is commonly MaxOffset to mean "never stop").
type Reader interface {
	// Next blocks until the next record is available, the reader's context
	// is canceled, or the stream terminates unexpectedly. A non-nil error
	// other than context.Canceled is always fatal per spec §4.4/§7
	// (ErrLogReaderTerminated).
	Next(ctx context.Context) (LogRecord, error)
	// Close releases reader resources.
	Close() error
}

// Log is the per-partition log client surface consumed by the partition
// processor.
type Log interface {
	// FindTail returns the current tail offset for logID.
	FindTail(ctx context.Context, logID uint64) (TailInfo, error)
	// CreateReader opens a reader over [from, to).
	CreateReader(ctx context.Context, logID uint64, from, to uint64) (Reader, error)
}

// MaxOffset is the "never stop" upper bound passed to CreateReader by the
// partition processor's startup sequence (spec §4.4 step 4).
const MaxOffset = ^uint64(0)
