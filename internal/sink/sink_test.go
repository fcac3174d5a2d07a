package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/segmentio/kafka-go"

	"github.com/devicetest/dltcos/internal/config"
	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/weekly"
)

// fakeWriter records published messages. The first len(fail) writes return
// the queued errors.
type fakeWriter struct {
	mu     sync.Mutex
	fail   []error
	msgs   []kafka.Message
	closed int
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fail) > 0 {
		err := f.fail[0]
		f.fail = f.fail[1:]
		return err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeWriter) published() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]kafka.Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func kafkaCfg() config.KafkaConfig {
	return config.KafkaConfig{Brokers: []string{"unused:9092"}, Topic: "reports", BufferSize: 10}
}

func newTestSink(w *fakeWriter) *Sink {
	s := New(kafkaCfg())
	s.openFn = func(config.KafkaConfig) (Writer, error) { return w, nil }
	return s
}

func makeReport(cell, batch string) *pipeline.Report {
	end := civil.Date{Year: 2024, Month: 3, Day: 10}
	wk := weekly.Week{Start: end.AddDays(-6), End: end, Devices: 2}
	return &pipeline.Report{
		BatchID:      batch,
		CellID:       cell,
		GeneratedAt:  time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC),
		InputDevices: 2,
		Weeks:        []weekly.Week{wk},
		Total:        wk,
	}
}

// waitFor polls until n messages are published or within has passed.
func waitFor(w *fakeWriter, n int, within time.Duration) []kafka.Message {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if msgs := w.published(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(20 * time.Millisecond)
	}
	return w.published()
}

// --- Tests ---

func TestSink_PublishesReport(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Enqueue(makeReport("CEL01", "b-1"))

	msgs := waitFor(w, 1, 2*time.Second)
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if string(m.Key) != "CEL01" {
		t.Errorf("Key = %q, want CEL01", m.Key)
	}
	var got pipeline.Report
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if got.BatchID != "b-1" || got.Total.Devices != 2 || got.Weeks[0].End != (civil.Date{Year: 2024, Month: 3, Day: 10}) {
		t.Errorf("value = %+v", got)
	}
}

func TestSink_MultipleReportsInOrder(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < 5; i++ {
		s.Enqueue(makeReport("CEL01", fmt.Sprintf("b-%d", i)))
	}

	msgs := waitFor(w, 5, 2*time.Second)
	if len(msgs) != 5 {
		t.Fatalf("published %d messages, want 5", len(msgs))
	}
	for i, m := range msgs {
		if got := headerValue(m, HeaderBatchID); got != fmt.Sprintf("b-%d", i) {
			t.Errorf("msgs[%d] batch = %q", i, got)
		}
	}
}

func TestSink_RetriesTransientError(t *testing.T) {
	w := &fakeWriter{fail: []error{kafka.LeaderNotAvailable}}
	s := newTestSink(w)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Enqueue(makeReport("CEL01", "b-1"))

	// First backoff is about one second.
	msgs := waitFor(w, 1, 3*time.Second)
	if len(msgs) != 1 {
		t.Fatalf("published %d messages after retry, want 1", len(msgs))
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed < 1 {
		t.Errorf("writer closed %d times, want at least 1", closed)
	}
}

func TestSink_RetryKeepsCellOrder(t *testing.T) {
	w := &fakeWriter{fail: []error{kafka.LeaderNotAvailable}}
	s := newTestSink(w)

	// Both reports are queued before the first publish fails.
	s.Enqueue(makeReport("CEL01", "older"))
	s.Enqueue(makeReport("CEL01", "newer"))

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	go s.Run(ctx)

	msgs := waitFor(w, 2, 3*time.Second)
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	var got []string
	for _, m := range msgs {
		got = append(got, headerValue(m, HeaderBatchID))
	}
	if got[0] != "older" || got[1] != "newer" {
		t.Errorf("publish order = %v, want [older newer]", got)
	}
}

func TestSink_DiscardsOnPermanentError(t *testing.T) {
	w := &fakeWriter{fail: []error{kafka.TopicAuthorizationFailed}}
	s := newTestSink(w)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Enqueue(makeReport("CEL01", "dropped"))
	s.Enqueue(makeReport("CEL01", "kept"))

	msgs := waitFor(w, 1, 2*time.Second)
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if got := headerValue(msgs[0], HeaderBatchID); got != "kept" {
		t.Errorf("batch = %q, want kept", got)
	}
}

func TestSink_BufferEvictsOldest(t *testing.T) {
	cfg := kafkaCfg()
	cfg.BufferSize = 3
	s := New(cfg)

	for i := 0; i < 5; i++ {
		s.Enqueue(makeReport("CEL01", fmt.Sprintf("b-%d", i)))
	}
	if s.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", s.Pending())
	}

	for _, want := range []string{"b-2", "b-3", "b-4"} {
		if got := (<-s.buf).BatchID; got != want {
			t.Errorf("batch = %q, want %q", got, want)
		}
	}
}

func TestSink_OpenFailureRetriesUntilCancel(t *testing.T) {
	s := New(kafkaCfg())
	var mu sync.Mutex
	opens := 0
	s.openFn = func(config.KafkaConfig) (Writer, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return nil, errors.New("no route to broker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
	mu.Lock()
	defer mu.Unlock()
	if opens != 1 {
		t.Errorf("opens = %d, want 1 before the first backoff elapsed", opens)
	}
}

func TestSink_GracefulShutdown(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
	if w.closed != 1 {
		t.Errorf("writer closed %d times, want 1", w.closed)
	}
}

func TestToMessage(t *testing.T) {
	rep := makeReport("CEL09", "b-9")
	m, err := toMessage(rep)
	if err != nil {
		t.Fatalf("toMessage: %v", err)
	}
	if string(m.Key) != "CEL09" {
		t.Errorf("Key = %q", m.Key)
	}
	if !m.Time.Equal(rep.GeneratedAt) {
		t.Errorf("Time = %v, want %v", m.Time, rep.GeneratedAt)
	}
	if got := headerValue(m, HeaderContentType); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
}

func TestIsPermanentError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"authorization", kafka.TopicAuthorizationFailed, true},
		{"wrapped authorization", fmt.Errorf("write: %w", kafka.TopicAuthorizationFailed), true},
		{"too large", kafka.MessageTooLargeError{}, true},
		{"leader not available", kafka.LeaderNotAvailable, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain", errors.New("connection refused"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isPermanentError(tc.err); got != tc.want {
				t.Errorf("isPermanentError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestBackoff_ResetsAndCaps(t *testing.T) {
	b := newBackoff()
	if first := b.next(); first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 50; i++ {
		if d := b.next(); d > backoffMax*5/4 {
			t.Errorf("backoff[%d] = %v, exceeds max with jitter", i, d)
		}
	}
	b.reset()
	if after := b.next(); after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestNewKafkaWriter_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaWriter(config.KafkaConfig{Topic: "x"}); err == nil {
		t.Error("expected error without brokers")
	}
	w, err := NewKafkaWriter(kafkaCfg())
	if err != nil {
		t.Fatalf("NewKafkaWriter: %v", err)
	}
	kw := w.(*kafka.Writer)
	if kw.Topic != "reports" {
		t.Errorf("Topic = %q", kw.Topic)
	}
	if _, ok := kw.Balancer.(*kafka.Hash); !ok {
		t.Errorf("Balancer = %T, want *kafka.Hash", kw.Balancer)
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
