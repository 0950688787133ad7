package conversation

import (
	"sync"

	"github.com/chatkit-io/chatkit-go/internal/model"
)

// Delegate is the optional strongly-typed callback interface for engine
// events. All methods are invoked on the dispatch goroutine. Embed
// NoopDelegate to implement only a subset.
type Delegate interface {
	UnreadCountChanged(unread int)
	MessagesReceived(messages []model.Message)
	PreviousMessagesReceived(messages []model.Message)
	ActivityReceived(activity model.Activity)
	MessageSent(msg model.Message)
	MessageFailed(msg model.Message, err error)
}

// NoopDelegate implements Delegate with no-ops.
type NoopDelegate struct{}

func (NoopDelegate) UnreadCountChanged(int)                  {}
func (NoopDelegate) MessagesReceived([]model.Message)        {}
func (NoopDelegate) PreviousMessagesReceived([]model.Message) {}
func (NoopDelegate) ActivityReceived(model.Activity)         {}
func (NoopDelegate) MessageSent(model.Message)               {}
func (NoopDelegate) MessageFailed(model.Message, error)      {}

// Subscriber is a passive event observer.
type Subscriber func(model.Event)

type subscription struct {
	id int
	fn Subscriber
}

// dispatcher serializes all event delivery and completion callbacks onto a
// single goroutine, preserving enqueue order. This goroutine is the engine's
// designated thread: state is mutated under the aggregate's mutex, but every
// observable notification leaves through here.
type dispatcher struct {
	jobs chan func()
	done chan struct{}

	// closeMu guards jobs against close; posters hold the read side for
	// the duration of the channel send so close cannot race it.
	closeMu sync.RWMutex
	closed  bool

	subMu  sync.Mutex
	subs   []subscription
	nextID int
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		jobs: make(chan func(), 256),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for job := range d.jobs {
		job()
	}
	close(d.done)
}

// post enqueues a job for the dispatch goroutine. Jobs posted after close
// are dropped.
func (d *dispatcher) post(job func()) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return
	}
	d.jobs <- job
}

// close stops the dispatch goroutine after draining pending jobs.
func (d *dispatcher) close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.closeMu.Unlock()
	<-d.done
}

func (d *dispatcher) subscribe(fn Subscriber) int {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.nextID++
	d.subs = append(d.subs, subscription{id: d.nextID, fn: fn})
	return d.nextID
}

func (d *dispatcher) unsubscribe(id int) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for i := range d.subs {
		if d.subs[i].id == id {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

// snapshot returns the subscriber list in subscription order.
func (d *dispatcher) snapshot() []subscription {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	return append([]subscription(nil), d.subs...)
}
