package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/Iron-Ham/dispatch/internal/logging"
)

const (
	feedbackTopic = "dispatch.feedback"

	// DefaultBuffer is the number of undelivered events an AsyncSink holds
	// when none is set.
	DefaultBuffer = 256
)

// AsyncOptions configures an AsyncSink.
type AsyncOptions struct {
	Buffer int
	Logger *logging.Logger
	// Closer, when set, is closed after the async sink has flushed.
	Closer Closer
}

// AsyncSink hands events to an inner sink on a separate goroutine through
// a watermill gochannel. Record returns as soon as the event is published.
//
// At most Buffer events are undelivered at any time; Record drops the event
// and returns ErrBufferFull beyond that. The gochannel publishes each
// message from its own goroutine, so delivery order is not preserved.
// Events carry their own timestamp.
type AsyncSink struct {
	inner  Sink
	closer Closer
	pubSub *gochannel.GoChannel
	logger *logging.Logger

	slots   chan struct{}
	dropped atomic.Int64

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewAsyncSink starts the delivery goroutine for inner.
func NewAsyncSink(inner Sink, opts AsyncOptions) (*AsyncSink, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(opts.Buffer),
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NopLogger{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := pubSub.Subscribe(ctx, feedbackTopic)
	if err != nil {
		cancel()
		_ = pubSub.Close()
		return nil, fmt.Errorf("subscribe to feedback topic: %w", err)
	}

	s := &AsyncSink{
		inner:  inner,
		closer: opts.Closer,
		pubSub: pubSub,
		logger: logging.OrNop(opts.Logger).WithComponent("feedback"),
		slots:  make(chan struct{}, opts.Buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.consume(messages)
	return s, nil
}

func (s *AsyncSink) consume(messages <-chan *message.Message) {
	defer close(s.done)

	for msg := range messages {
		var ev Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			s.logger.Warn("dropping malformed feedback event", "error", err.Error())
		} else if err := s.inner.Record(context.Background(), ev); err != nil {
			s.logger.Warn("feedback sink failed", "task_id", ev.TaskID, "error", err.Error())
		}
		msg.Ack()
		<-s.slots
		s.pending.Done()
	}
}

// Record publishes ev for asynchronous delivery.
func (s *AsyncSink) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feedback event: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.slots <- struct{}{}:
	default:
		s.dropped.Add(1)
		return ErrBufferFull
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	s.pending.Add(1)
	if err := s.pubSub.Publish(feedbackTopic, msg); err != nil {
		<-s.slots
		s.pending.Done()
		return fmt.Errorf("publish feedback event: %w", err)
	}
	return nil
}

// Dropped returns how many events Record rejected with ErrBufferFull.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Flush waits until every published event has been delivered or ctx ends.
func (s *AsyncSink) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further events, flushes pending ones and releases the inner
// sink. Events still undelivered when ctx ends are dropped.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	flushErr := s.Flush(ctx)

	s.cancel()
	if err := s.pubSub.Close(); err != nil {
		s.logger.Warn("closing feedback channel", "error", err.Error())
	}
	<-s.done

	if s.closer != nil {
		if err := s.closer.Close(ctx); err != nil {
			return err
		}
	}
	return flushErr
}
