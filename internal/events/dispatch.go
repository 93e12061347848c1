package events

import "sync"

// Dispatcher runs push handlers. Implementations must preserve submission
// order.
type Dispatcher interface {
	Dispatch(fn func())
}

// Inline runs handlers on the calling goroutine.
type Inline struct{}

// Dispatch implements Dispatcher.
func (Inline) Dispatch(fn func()) {
	if fn != nil {
		fn()
	}
}

// Serial runs handlers one at a time on a dedicated goroutine, in the order
// they were dispatched.
type Serial struct {
	q        chan func()
	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewSerial starts a Serial dispatcher with a queue of queueSize pending
// handlers.
func NewSerial(queueSize int) *Serial {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Serial{
		q:       make(chan func(), queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Serial) run() {
	defer close(d.done)
	for {
		select {
		case fn := <-d.q:
			if fn != nil {
				fn()
			}
		case <-d.stopped:
			return
		}
	}
}

// Dispatch implements Dispatcher. It blocks while the queue is full and
// drops fn once the dispatcher is stopped.
func (d *Serial) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	select {
	case <-d.stopped:
		return
	default:
	}
	select {
	case d.q <- fn:
	case <-d.stopped:
	}
}

// Call runs fn on the dispatcher goroutine and waits for it. It returns false
// when the dispatcher stopped before fn ran.
func (d *Serial) Call(fn func()) bool {
	ran := make(chan struct{})
	d.Dispatch(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-d.done:
		return false
	}
}

// Stop ends the dispatcher goroutine. Pending handlers are discarded.
func (d *Serial) Stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
	<-d.done
}
