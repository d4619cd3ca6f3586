package transfer

import (
	"sync"
)

// ProgressUpdate reports cumulative bytes for an in-flight transfer.
type ProgressUpdate struct {
	AccountName      string `json:"account_name"`
	RemotePath       string `json:"remote_path"`
	BytesRead        int64  `json:"bytes_read"`
	TotalTransferred int64  `json:"total_transferred"`
	TotalToTransfer  int64  `json:"total_to_transfer"`
}

// ProgressSubscription receives updates for a single (account, remote path)
// pair. Listeners attach before or during the transfer and detach with Close.
type ProgressSubscription struct {
	C chan ProgressUpdate

	key       string
	id        int
	registry  *progressRegistry
	closeOnce sync.Once
}

func (s *ProgressSubscription) Close() {
	s.closeOnce.Do(func() {
		s.registry.remove(s.key, s.id)
		close(s.C)
	})
}

type progressRegistry struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]*ProgressSubscription
}

func newProgressRegistry() *progressRegistry {
	return &progressRegistry{subs: make(map[string]map[int]*ProgressSubscription)}
}

func (r *progressRegistry) subscribe(accountName, remotePath string) *ProgressSubscription {
	key := BuildKey(accountName, remotePath)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &ProgressSubscription{
		C:        make(chan ProgressUpdate, 64),
		key:      key,
		id:       r.nextID,
		registry: r,
	}

	if r.subs[key] == nil {
		r.subs[key] = make(map[int]*ProgressSubscription)
	}
	r.subs[key][sub.id] = sub

	return sub
}

func (r *progressRegistry) publish(u ProgressUpdate) {
	key := BuildKey(u.AccountName, u.RemotePath)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs[key] {
		select {
		case sub.C <- u:
		default:
		}
	}
}

func (r *progressRegistry) remove(key string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.subs[key]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(r.subs, key)
		}
	}
}
