package grpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

var ErrBusFull = errors.New("grpc bus: buffer full")

const publishTimeout = 5 * time.Second

// GrpcBus publishes events to a remote EventService over gRPC.
// Publish only enqueues; a single goroutine delivers in order.
type GrpcBus struct {
	cc     grpc.ClientConnInterface
	token  string
	queue  chan *EventRequest
	log    *zap.Logger
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewGrpcBus delivers through cc, presenting serviceToken to the remote EventServer.
func NewGrpcBus(cc grpc.ClientConnInterface, serviceToken string, bufferSize int, log *zap.Logger) *GrpcBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &GrpcBus{cc: cc, token: serviceToken, queue: make(chan *EventRequest, bufferSize), log: log}
	b.wg.Add(1)
	go b.deliver()
	return b
}

// NewGrpcBusFromAddr dials the remote EventService and returns a GrpcBus and a cleanup function.
func NewGrpcBusFromAddr(addr, serviceToken string, bufferSize int, log *zap.Logger) (*GrpcBus, func(), error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	bus := NewGrpcBus(conn, serviceToken, bufferSize, log)
	cleanup := func() {
		bus.Close()
		_ = conn.Close()
	}
	return bus, cleanup, nil
}

func (b *GrpcBus) Publish(topic string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("grpc bus: closed, dropping %s", topic)
	}
	select {
	case b.queue <- &EventRequest{Topic: topic, Payload: data}:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrBusFull, topic)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *GrpcBus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *GrpcBus) deliver() {
	defer b.wg.Done()
	for req := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+b.token)
		res, err := publish(ctx, b.cc, req)
		cancel()
		switch {
		case err != nil:
			b.log.Error("grpc bus: publish failed", zap.String("topic", req.Topic), zap.Error(err))
		case !res.Success:
			b.log.Warn("grpc bus: event rejected", zap.String("topic", req.Topic), zap.String("error", res.ErrorMessage))
		}
	}
}
