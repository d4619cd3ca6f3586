package transfer

import (
	"sync"

	"github.com/uteknoid/drived/pkg/drivedb/model"
)

type EventKind string

const (
	EventAdded    EventKind = "added"
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
)

// Event is what replaces the broadcast intents of the mobile client: one
// added, one started and one finished notification per transfer, published
// only after the persisted record reflects the state being announced.
type Event struct {
	Kind             EventKind       `json:"kind"`
	Direction        model.Direction `json:"direction"`
	AccountName      string          `json:"account_name"`
	RemotePath       string          `json:"remote_path"`
	OldRemotePath    string          `json:"old_remote_path,omitempty"`
	LocalPath        string          `json:"local_path,omitempty"`
	Success          bool            `json:"success"`
	UnlinkedFromPath string          `json:"unlinked_from_path,omitempty"`
}

// Subscription is a registered event consumer. Close it when the consumer
// goes away; events are delivered on C and dropped when the buffer is
// full rather than blocking the worker.
type Subscription struct {
	C chan Event

	id        int
	notifier  *Notifier
	closeOnce sync.Once
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.notifier.remove(s.id)
		close(s.C)
	})
}

// Notifier fans transfer events out to subscribers.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]*Subscription)}
}

func (n *Notifier) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 16
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub := &Subscription{
		C:        make(chan Event, buffer),
		id:       n.nextID,
		notifier: n,
	}
	n.subs[sub.id] = sub

	return sub
}

func (n *Notifier) Publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		select {
		case sub.C <- e:
		default:
			// Slow consumer; drop rather than stall the worker.
		}
	}
}

func (n *Notifier) remove(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, id)
}
