package alert

import (
	"sync"

	"keelstore/pkg/logging"
)

// QueueDispatcher delivers notifications through a bounded outbound queue
// drained by a single worker, so delivery never runs under the monitor's
// mutex and never re-enters the monitor.
type QueueDispatcher struct {
	queue    chan Notification
	deliver  func(n Notification)
	stopOnce sync.Once
	done     chan struct{}
}

// NewQueueDispatcher starts the worker. deliver runs on the worker
// goroutine; capacity bounds the queue, dropping the newest notifications
// under sustained overload.
func NewQueueDispatcher(capacity int, deliver func(n Notification)) *QueueDispatcher {
	if capacity <= 0 {
		capacity = 64
	}
	d := &QueueDispatcher{
		queue:   make(chan Notification, capacity),
		deliver: deliver,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *QueueDispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

// Dispatch implements Dispatcher. A full queue drops the notification; the
// aggregated history still holds the events.
func (d *QueueDispatcher) Dispatch(n Notification) {
	select {
	case d.queue <- n:
	default:
		logging.Warn("alert notification dropped: queue full",
			"category", n.Category, "sequence", n.Sequence)
	}
}

// Close drains outstanding notifications and stops the worker.
func (d *QueueDispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.queue)
		<-d.done
	})
}
