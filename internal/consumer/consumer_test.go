package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockHandler is a mock implementation of Handler
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Handle(ctx context.Context, topic string, payload []byte) (*Result, error) {
	args := m.Called(ctx, topic, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Result), args.Error(1)
}

// sliceSource emits a fixed set of envelopes, then waits for shutdown
type sliceSource struct {
	envelopes []*Envelope
}

func (s *sliceSource) Start(ctx context.Context, out chan<- *Envelope) error {
	defer close(out)
	for _, env := range s.envelopes {
		select {
		case out <- env:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

// failingSource closes out without emitting anything
type failingSource struct {
	err error
}

func (s *failingSource) Start(ctx context.Context, out chan<- *Envelope) error {
	close(out)
	return s.err
}

type ackCounter struct {
	acks  atomic.Int32
	nacks atomic.Int32
	wg    sync.WaitGroup
}

func (c *ackCounter) envelope(topic, payload string) *Envelope {
	c.wg.Add(1)
	return NewEnvelope(topic, []byte(payload), topic,
		func(context.Context) error {
			c.acks.Add(1)
			c.wg.Done()
			return nil
		},
		func(context.Context) error {
			c.nacks.Add(1)
			c.wg.Done()
			return nil
		})
}

func (c *ackCounter) wait(t *testing.T) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("envelopes were not settled")
	}
}

func runConsumer(t *testing.T, c *Consumer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()
	return cancel, errCh
}

func TestConsumer_Start_AckAndNack(t *testing.T) {
	mockHandler := new(MockHandler)
	counter := &ackCounter{}
	source := &sliceSource{envelopes: []*Envelope{
		counter.envelope("aquatech/OK/data", `{"tds": 1}`),
		counter.envelope("aquatech/BAD/data", `{{`),
		counter.envelope("aquatech/DOWN/data", `{"tds": 1}`),
	}}

	mockHandler.On("Handle", mock.Anything, "aquatech/OK/data", mock.Anything).
		Return(&Result{Kind: KindData, StoreCode: "OK", Readings: 1}, nil).Once()
	mockHandler.On("Handle", mock.Anything, "aquatech/BAD/data", mock.Anything).
		Return(nil, fmt.Errorf("%w: bad json", ErrMalformedMessage)).Once()
	mockHandler.On("Handle", mock.Anything, "aquatech/DOWN/data", mock.Anything).
		Return(nil, errors.New("clickhouse down")).Once()

	c := NewConsumer(source, mockHandler, Config{Workers: 2, BufferSize: 4}, zap.NewNop())
	cancel, errCh := runConsumer(t, c)

	counter.wait(t)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, int32(2), counter.acks.Load())
	assert.Equal(t, int32(1), counter.nacks.Load())
	mockHandler.AssertExpectations(t)
}

func TestConsumer_Start_ReturnsSourceError(t *testing.T) {
	mockHandler := new(MockHandler)
	source := &failingSource{err: errors.New("not authorized")}

	c := NewConsumer(source, mockHandler, Config{Workers: 2, BufferSize: 4}, zap.NewNop())

	err := c.Start(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, source.err)
	mockHandler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumer_Start_DrainsOnShutdown(t *testing.T) {
	mockHandler := new(MockHandler)
	counter := &ackCounter{}
	started := make(chan struct{})
	source := &sliceSource{envelopes: []*Envelope{counter.envelope("aquatech/SLOW/data", `{"tds": 1}`)}}

	var handledCtxErr error
	mockHandler.On("Handle", mock.Anything, "aquatech/SLOW/data", mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			handledCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return(&Result{Kind: KindData, StoreCode: "SLOW", Readings: 1}, nil).Once()

	c := NewConsumer(source, mockHandler, Config{Workers: 1, HandleTimeout: time.Second}, zap.NewNop())
	cancel, errCh := runConsumer(t, c)

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.NoError(t, handledCtxErr)
	assert.Equal(t, int32(1), counter.acks.Load())
}

func TestConsumer_Process_HandleTimeout(t *testing.T) {
	mockHandler := new(MockHandler)
	counter := &ackCounter{}

	mockHandler.On("Handle", mock.Anything, "aquatech/STORE01/data", mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	c := NewConsumer(&sliceSource{}, mockHandler, Config{HandleTimeout: 10 * time.Millisecond}, zap.NewNop())
	c.process(context.Background(), 0, counter.envelope("aquatech/STORE01/data", `{"tds": 1}`))

	assert.Equal(t, int32(0), counter.acks.Load())
	assert.Equal(t, int32(1), counter.nacks.Load())
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer(&sliceSource{}, new(MockHandler), Config{Workers: 0, BufferSize: -1}, zap.NewNop())

	assert.Equal(t, 1, c.config.Workers)
	assert.Equal(t, 0, c.config.BufferSize)
}
