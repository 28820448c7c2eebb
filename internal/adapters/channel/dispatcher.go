// Package channel holds SignalingChannel backends: an in-process hub, a
// redis pub/sub topic and a websocket client for the relay server.
package channel

import (
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

// dispatcher delivers inbound events to the subscription callbacks one at
// a time and in arrival order. Events that arrive before the matching
// callback is registered wait at the head of the queue.
type dispatcher struct {
	mu         sync.Mutex
	onMessage  func(domain.SignalMessage)
	onPresence func(core.PresenceEvent)
	queue      []any

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) message(msg domain.SignalMessage) { d.push(msg) }

func (d *dispatcher) presence(ev core.PresenceEvent) { d.push(ev) }

func (d *dispatcher) setOnMessage(fn func(domain.SignalMessage)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) setOnPresence(fn func(core.PresenceEvent)) {
	d.mu.Lock()
	d.onPresence = fn
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) close() {
	d.closeOnce.Do(func() { close(d.closed) })
}

func (d *dispatcher) push(item any) {
	select {
	case <-d.closed:
		return
	default:
	}
	d.mu.Lock()
	d.queue = append(d.queue, item)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	for {
		if fn := d.next(); fn != nil {
			fn()
			continue
		}
		select {
		case <-d.wake:
		case <-d.closed:
			return
		}
	}
}

func (d *dispatcher) next() func() {
	select {
	case <-d.closed:
		return nil
	default:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	var fn func()
	switch it := d.queue[0].(type) {
	case domain.SignalMessage:
		if cb := d.onMessage; cb != nil {
			fn = func() { cb(it) }
		}
	case core.PresenceEvent:
		if cb := d.onPresence; cb != nil {
			fn = func() { cb(it) }
		}
	}
	if fn != nil {
		d.queue[0] = nil
		d.queue = d.queue[1:]
	}
	return fn
}
