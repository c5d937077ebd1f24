package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/google/uuid"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultMaxRejections = 100
	DefaultMaxLineBytes  = 1024 * 1024
)

// Options tunes an Ingestor.
type Options struct {
	// Timeout bounds one ingestion call. Zero disables it.
	Timeout time.Duration

	// MaxRejections caps the rejection details kept in the result. The
	// rejected counter is never capped.
	MaxRejections int

	// MaxLineBytes is the longest accepted line. Longer lines are rejected.
	MaxLineBytes int

	// Charset of the input: utf-8 (default), latin1 or windows-1252.
	Charset string

	// ResolveAttempts bounds client find-or-create retries.
	ResolveAttempts int
}

// Ingestor reads record files and reconciles them into the store, one line
// at a time and in file order.
type Ingestor struct {
	store    store.Store
	pipeline *Pipeline
	opts     Options
}

// NewIngestor creates an ingestor writing to st.
func NewIngestor(st store.Store, parser *Parser, opts Options) *Ingestor {
	if parser == nil {
		parser = NewParser()
	}
	if opts.MaxRejections <= 0 {
		opts.MaxRejections = DefaultMaxRejections
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	resolver := NewClientResolver(st, opts.ResolveAttempts)
	return &Ingestor{
		store:    st,
		pipeline: NewLinePipeline(parser, resolver, st),
		opts:     opts,
	}
}

// Ingest processes every non-blank line of r. source names the input (a
// path, URI or upload name) and is recorded on the ingestion run.
//
// Malformed lines are counted as rejected and do not stop the call. A store
// failure or cancellation stops it; lines persisted before that point stay
// persisted and the partial result is returned together with the error.
func (i *Ingestor) Ingest(ctx context.Context, source string, r io.Reader) (*domain.IngestionResult, error) {
	start := time.Now()
	if i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}

	run := &domain.IngestionRun{
		ID:        uuid.NewString(),
		Source:    source,
		Filename:  FilenameOf(source),
		Status:    domain.RunStatusRunning,
		StartedAt: start.UTC(),
	}
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"run_id": run.ID,
		"source": source,
	})
	ctx = logger.WithContext(ctx, log)

	if err := i.store.StartIngestionRun(ctx, run); err != nil {
		return nil, &StoreError{Op: "StartIngestionRun", Err: err}
	}
	log.Info().Msg("Ingestion started")

	result := &domain.IngestionResult{RunID: run.ID}
	hasher := sha256.New()
	runErr := i.scan(ctx, io.TeeReader(r, hasher), result)
	result.Duration = time.Since(start)

	return result, i.finish(ctx, run, result, hasher, runErr)
}

func (i *Ingestor) scan(ctx context.Context, r io.Reader, result *domain.IngestionResult) error {
	decoded, err := decodeReader(r, i.opts.Charset)
	if err != nil {
		return err
	}

	br := bufio.NewReaderSize(decoded, min(64*1024, i.opts.MaxLineBytes))

	lineNo := 0
	for {
		line, tooLong, err := readLine(br, i.opts.MaxLineBytes)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("Ingest: reading input: %w", err)
		}
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}

		if tooLong {
			malformed := &domain.MalformedRecordError{
				Line:   lineNo,
				Reason: fmt.Sprintf("line exceeds %d bytes", i.opts.MaxLineBytes),
			}
			log := logger.FromContext(ctx)
			log.Debug().Int("line", lineNo).Msg("Rejected oversized line")
			i.reject(result, lineNo, malformed.Error())
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		state := &LineState{LineNo: lineNo, Line: line, RunID: result.RunID}
		if err := i.pipeline.Execute(ctx, state); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("Ingest: line %d: %w", lineNo, err)
		}

		switch state.Outcome {
		case OutcomeProcessed:
			result.Processed++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeRejected:
			i.reject(result, lineNo, state.Reason)
		}
	}
}

func (i *Ingestor) reject(result *domain.IngestionResult, lineNo int, reason string) {
	result.Rejected++
	if len(result.Rejections) < i.opts.MaxRejections {
		result.Rejections = append(result.Rejections, domain.Rejection{Line: lineNo, Reason: reason})
	}
}

// readLine returns the next line without its "\n" or "\r\n" terminator. A
// line longer than limit is drained from br and reported with tooLong set,
// so one oversized line never ends the read. io.EOF is returned only when
// no bytes are left.
func readLine(br *bufio.Reader, limit int) (string, bool, error) {
	var buf []byte
	read := 0
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			buf = append(buf, chunk...)
			if len(bytes.TrimRight(buf, "\r\n")) > limit {
				tooLong = true
				buf = nil
			}
		}

		switch {
		case err == nil:
			return trimEOL(buf), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read == 0 {
				return "", false, io.EOF
			}
			return trimEOL(buf), tooLong, nil
		default:
			return "", false, err
		}
	}
}

func trimEOL(b []byte) string {
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	return string(b)
}

// finish records the terminal state of run. The checksum is only recorded
// when the whole input was read.
func (i *Ingestor) finish(ctx context.Context, run *domain.IngestionRun, result *domain.IngestionResult, hasher hash.Hash, runErr error) error {
	log := logger.FromContext(ctx)

	status := domain.RunStatusSuccess
	switch {
	case runErr == nil:
		run.ChecksumSHA256 = hex.EncodeToString(hasher.Sum(nil))
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = domain.RunStatusCancelled
	default:
		status = domain.RunStatusFailed
	}
	run.Finish(status, result, runErr)

	// The call context may already be cancelled; the run record must still
	// be written.
	recordCtx := context.WithoutCancel(ctx)
	if err := i.store.FinishIngestionRun(recordCtx, run); err != nil {
		log.Error().Err(err).Msg("Failed to record ingestion run")
		if runErr == nil {
			runErr = &StoreError{Op: "FinishIngestionRun", Err: err}
		}
	}

	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr)
	}
	event.
		Str("status", string(status)).
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Int("rejected", result.Rejected).
		Str("processing_time", domain.FormatDuration(result.Duration)).
		Msg("Ingestion finished")

	return runErr
}
