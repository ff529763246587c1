package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/usecase"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []kafka.Message
	commits   chan struct{}
	closed    bool
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{commits: make(chan struct{}, 16)}
	for i, v := range values {
		r.queue = append(r.queue, kafka.Message{Partition: 0, Offset: int64(i), Value: []byte(v)})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	r.committed = append(r.committed, msgs...)
	r.mu.Unlock()
	r.commits <- struct{}{}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.committed))
	for _, m := range r.committed {
		out = append(out, m.Offset)
	}
	return out
}

// fakeIngester reports failures for the first failTimes calls.
type fakeIngester struct {
	mu        sync.Mutex
	calls     int
	failTimes int
	received  [][]domain.RawObservation
}

func (f *fakeIngester) IngestBatch(ctx context.Context, raws []domain.RawObservation) (*usecase.BatchReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.received = append(f.received, raws)

	report := &usecase.BatchReport{RunID: "test", Received: len(raws)}
	if f.calls <= f.failTimes {
		report.Failed = 1
	}
	return report, nil
}

func (f *fakeIngester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const message = `{"supermercado":"Jumbo","nombre":"Leche","precio_actual":"1.090","fecha_extraccion":"2024-05-01T12:00:00Z"}`

func startConsumer(t *testing.T, reader *fakeReader, ingester *fakeIngester, batchSize int, timeout time.Duration) (context.CancelFunc, chan error) {
	t.Helper()
	consumer := NewKafkaConsumer(reader, ingester, quietLogger(), KafkaConsumerConfig{
		BatchSize:    batchSize,
		BatchTimeout: timeout,
		Backoff:      Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitCommit(t *testing.T, reader *fakeReader) {
	t.Helper()
	select {
	case <-reader.commits:
	case <-time.After(2 * time.Second):
		t.Fatal("no commit")
	}
}

func TestKafkaConsumer_CommitsFullBatch(t *testing.T) {
	reader := newFakeReader(message, `[`+message+`,`+message+`]`, message)
	ingester := &fakeIngester{}
	cancel, done := startConsumer(t, reader, ingester, 3, time.Hour)

	waitCommit(t, reader)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1, 2}, reader.offsets())
	require.Equal(t, 1, ingester.callCount())
	assert.Len(t, ingester.received[0], 4, "array messages are flattened")
	assert.True(t, reader.closed)
}

func TestKafkaConsumer_FlushesOnTimeout(t *testing.T) {
	reader := newFakeReader(message)
	ingester := &fakeIngester{}
	cancel, done := startConsumer(t, reader, ingester, 100, 20*time.Millisecond)

	waitCommit(t, reader)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []int64{0}, reader.offsets())
}

func TestKafkaConsumer_RetriesTransientFailuresBeforeCommit(t *testing.T) {
	reader := newFakeReader(message, message)
	ingester := &fakeIngester{failTimes: 2}
	cancel, done := startConsumer(t, reader, ingester, 2, time.Hour)

	waitCommit(t, reader)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, ingester.callCount())
	assert.Equal(t, []int64{0, 1}, reader.offsets())
}

func TestKafkaConsumer_SkipsUndecodableMessages(t *testing.T) {
	reader := newFakeReader("not json", message)
	ingester := &fakeIngester{}
	cancel, done := startConsumer(t, reader, ingester, 2, time.Hour)

	waitCommit(t, reader)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1}, reader.offsets(), "bad message is committed past")
	require.Equal(t, 1, ingester.callCount())
	assert.Len(t, ingester.received[0], 1)
}

func TestKafkaConsumer_FetchErrorsAreRetried(t *testing.T) {
	reader := newFakeReader(message)
	reader.fetchErrs = []error{errors.New("broker down"), errors.New("broker down")}
	ingester := &fakeIngester{}
	cancel, done := startConsumer(t, reader, ingester, 1, time.Hour)

	waitCommit(t, reader)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []int64{0}, reader.offsets())
}

func TestKafkaConsumer_ShutdownLeavesBatchUncommitted(t *testing.T) {
	reader := newFakeReader(message)
	ingester := &fakeIngester{}
	cancel, done := startConsumer(t, reader, ingester, 10, time.Hour)

	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, reader.offsets())
	assert.Equal(t, 0, ingester.callCount())
}
