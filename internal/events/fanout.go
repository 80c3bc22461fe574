package events

import (
	"context"
	"encoding/json"
	"errors"
)

// Broadcaster pushes messages to connected clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// FanoutPublisher forwards events to a sink and broadcasts them.
type FanoutPublisher struct {
	sink        Publisher
	broadcaster Broadcaster
}

// NewFanoutPublisher constructs a publisher that fans out to sink and broadcaster.
func NewFanoutPublisher(sink Publisher, broadcaster Broadcaster) *FanoutPublisher {
	return &FanoutPublisher{sink: sink, broadcaster: broadcaster}
}

// Publish writes to the sink and broadcasts the JSON event. The broadcast
// happens even when the sink fails; the sink error is still returned.
func (p *FanoutPublisher) Publish(ctx context.Context, ev Event) error {
	var sinkErr error
	if p.sink != nil {
		sinkErr = p.sink.Publish(ctx, ev)
	}

	if p.broadcaster == nil {
		return sinkErr
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Join(sinkErr, err)
	}
	p.broadcaster.Broadcast(data)
	return sinkErr
}
