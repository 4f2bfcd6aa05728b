package nats

import (
	"github.com/nats-io/nats.go"

	"creditgate/internal/repository"
)

type Bus struct {
	nc *nats.Conn
}

var _ repository.MessageBus = (*Bus)(nil)

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Publish(topic string, data []byte) error {
	return b.nc.Publish(topic, data)
}
