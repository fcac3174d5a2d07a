package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/devicetest/dltcos/internal/config"
	"github.com/devicetest/dltcos/internal/pipeline"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// openFunc opens a Writer for cfg. Swapped out in tests.
type openFunc func(cfg config.KafkaConfig) (Writer, error)

// Sink buffers processed reports and publishes them to Kafka.
// Enqueue is non-blocking; when the buffer is full the oldest report is
// evicted. Run must be called in a goroutine to drain the buffer.
type Sink struct {
	cfg    config.KafkaConfig
	buf    chan *pipeline.Report
	openFn openFunc

	// retry is a report whose publish failed transiently. Owned by Run.
	retry *pipeline.Report
}

// New creates a Sink publishing to the topic in cfg.
func New(cfg config.KafkaConfig) *Sink {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Sink{
		cfg:    cfg,
		buf:    make(chan *pipeline.Report, size),
		openFn: NewKafkaWriter,
	}
}

// NewKafkaWriter returns a synchronous kafka-go writer that partitions by
// message key, so every report for one cell lands on the same partition.
func NewKafkaWriter(cfg config.KafkaConfig) (Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("sink: no brokers configured")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           sendTimeout,
		AllowAutoTopicCreation: true,
	}, nil
}

// Enqueue queues rep for publishing, evicting the oldest queued report when
// the buffer is full.
func (s *Sink) Enqueue(rep *pipeline.Report) {
	select {
	case s.buf <- rep:
	default:
		select {
		case old := <-s.buf:
			slog.Warn("sink: buffer full, evicted oldest report",
				"cell", old.CellID, "batch", old.BatchID, "buffer_cap", cap(s.buf))
		default:
		}
		// Another Enqueue may have refilled the slot; drop rather than block.
		select {
		case s.buf <- rep:
		default:
			slog.Warn("sink: buffer full, dropped report", "cell", rep.CellID, "batch", rep.BatchID)
		}
	}
}

// Pending returns the number of queued reports, not counting one that is
// waiting to be retried.
func (s *Sink) Pending() int { return len(s.buf) }

// Run drains the buffer into Kafka, reopening the writer with exponential
// backoff after transient failures. Run blocks until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		w, err := s.openFn(s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("sink: open writer failed, will retry",
				"brokers", s.cfg.Brokers, "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("sink: writer ready", "brokers", s.cfg.Brokers, "topic", s.cfg.Topic)

		err = s.drain(ctx, w, bo)
		if cerr := w.Close(); cerr != nil {
			slog.Warn("sink: close writer", "err", cerr)
		}
		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("sink: publish failed, will retry",
			"topic", s.cfg.Topic, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// drain publishes queued reports until a transient error or ctx is done.
// The backoff is reset after every successful write.
func (s *Sink) drain(ctx context.Context, w Writer, bo *backoff) error {
	for {
		rep := s.retry
		s.retry = nil
		if rep == nil {
			select {
			case <-ctx.Done():
				return nil
			case rep = <-s.buf:
			}
		}

		msg, err := toMessage(rep)
		if err != nil {
			slog.Error("sink: encode report, discarding", "cell", rep.CellID, "err", err)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = w.WriteMessages(sendCtx, msg)
		cancel()

		if err != nil {
			if isPermanentError(err) {
				slog.Error("sink: permanent publish error, discarding report",
					"cell", rep.CellID, "batch", rep.BatchID, "err", err)
				continue
			}
			// Retried before anything queued behind it, so a cell's reports
			// stay in order on its partition.
			s.retry = rep
			return fmt.Errorf("publish: %w", err)
		}

		bo.reset()
		slog.Debug("sink: report published", "cell", rep.CellID, "batch", rep.BatchID)
	}
}

// isPermanentError reports whether retrying err cannot succeed.
func isPermanentError(err error) bool {
	var tooLarge kafka.MessageTooLargeError
	if errors.As(err, &tooLarge) {
		return true
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return !kerr.Temporary()
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current delay with ±25% jitter and doubles it for the
// following call, up to backoffMax.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
