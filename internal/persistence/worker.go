package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"OmniLedger/internal/observability"
)

// Worker drains the executive's persist channel and writes batches to the
// transaction log. The channel is bounded, so a slow or down database
// backpressures the executive instead of losing outputs.
type Worker struct {
	in           <-chan Record
	writer       *TxLogWriter
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	in <-chan Record,
	writer *TxLogWriter,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		in:           in,
		writer:       writer,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run consumes records until ctx is cancelled or the channel closes, flushing
// on batch size or timeout, whichever comes first.
func (w *Worker) Run(ctx context.Context) {
	batch := make([]Record, 0, w.batchSize)
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flushWithRetry(ctx, batch)
			w.log.Info().Int("pending", len(batch)).Msg("persistence worker stopped")
			return

		case rec, ok := <-w.in:
			if !ok {
				w.flushWithRetry(ctx, batch)
				w.log.Info().Msg("persist channel closed, worker stopped")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				resetTimer(timer, w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write lands. The
// transaction log is the source of truth; giving up would lose history. On
// shutdown one last attempt runs detached from the cancelled context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []Record) {
	if len(batch) == 0 {
		return
	}

	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		err := w.flush(ctx, batch)
		if err == nil {
			return
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("flush").Inc()
		}
		w.log.Error().Err(err).
			Int("batch_size", len(batch)).
			Dur("backoff", backoff).
			Msg("transaction log flush failed, retrying")

		select {
		case <-ctx.Done():
			if err := w.flush(context.Background(), batch); err != nil {
				w.log.Error().Err(err).
					Int("batch_size", len(batch)).
					Msg("final flush failed on shutdown, batch lost")
			}
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []Record) error {
	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistTxWritten.Add(float64(len(batch)))
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Tx.Sequence))
	}
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
