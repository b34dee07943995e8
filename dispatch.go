package parcelshare

import (
	"sync"

	"github.com/opd-ai/parcelshare/parcel"
)

// pulseDispatcher decouples pulse emission from pulse handling. Backends may
// emit on any stack, including from inside a ledger call the manager issued
// while holding its own lock; the dispatcher queues those batches and
// re-delivers them serially on a dedicated goroutine, preserving order.
type pulseDispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []pulseBatch
	closed bool
	done   chan struct{}

	deliver func(from parcel.AgentID, pulses []parcel.Pulse)
}

type pulseBatch struct {
	from   parcel.AgentID
	pulses []parcel.Pulse
}

func newPulseDispatcher(deliver func(from parcel.AgentID, pulses []parcel.Pulse)) *pulseDispatcher {
	d := &pulseDispatcher{
		deliver: deliver,
		done:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// push enqueues one batch. It never blocks, so it is safe to call from any
// context, lock held or not.
func (d *pulseDispatcher) push(from parcel.AgentID, pulses []parcel.Pulse) {
	if len(pulses) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, pulseBatch{from: from, pulses: pulses})
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *pulseDispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		batch := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(batch.from, batch.pulses)
	}
}

// close drains the queue and stops the loop. Blocks until the last queued
// batch has been delivered.
func (d *pulseDispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.cond.Signal()
	<-d.done
}
