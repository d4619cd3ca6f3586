package transfer

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/uteknoid/drived/pkg/clog"
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/remote"
)

// DefaultRetryDelay is how long a retryable failure waits before the
// transfer is re-enqueued.
const DefaultRetryDelay = 30 * time.Second

// Enqueuer is the slice of the service the scheduler needs to resubmit a
// transfer.
type Enqueuer interface {
	EnqueueRetry(accountName, remotePath string) error
}

// RetryScheduler re-enqueues transfers that failed for want of a network.
// One pending timer per (account, remote path); scheduling the same pair
// again replaces the previous timer instead of stacking a second retry.
type RetryScheduler struct {
	mu     sync.Mutex
	delay  time.Duration
	target Enqueuer
	timers map[uint64]*retryEntry
}

type retryEntry struct {
	timer       *time.Timer
	accountName string
	remotePath  string
}

func NewRetryScheduler(delay time.Duration) *RetryScheduler {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &RetryScheduler{
		delay:  delay,
		timers: make(map[uint64]*retryEntry),
	}
}

// SetTarget installs the service retries are handed back to. Must be
// called before the first ScheduleTransfer.
func (s *RetryScheduler) SetTarget(target Enqueuer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
}

// ShouldScheduleRetry reports whether result is worth retrying once
// connectivity is back. Only connectivity failures and wifi deferrals
// qualify; explicit cancellations, auth failures and overwrite conflicts
// never come back on their own.
func ShouldScheduleRetry(result Result) bool {
	if result.NeverRetry() {
		return false
	}

	switch result.Code {
	case model.ResultDelayedForWifi:
		return true
	case model.ResultNoNetwork:
		return true
	default:
		return result.Err != nil && remote.IsConnectivityError(result.Err)
	}
}

// ScheduleTransfer arms (or re-arms) the retry timer for one transfer.
func (s *RetryScheduler) ScheduleTransfer(accountName, remotePath string) {
	jobID := JobID(accountName, remotePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.timers[jobID]; ok {
		entry.timer.Stop()
	}

	clog.UsingAccount(accountName).Infof("scheduling retry for %q in %s", remotePath, s.delay)

	s.timers[jobID] = &retryEntry{
		accountName: accountName,
		remotePath:  remotePath,
		timer: time.AfterFunc(s.delay, func() {
			s.fire(jobID, accountName, remotePath)
		}),
	}
}

// CancelTransfer drops any pending retry for one transfer.
func (s *RetryScheduler) CancelTransfer(accountName, remotePath string) {
	jobID := JobID(accountName, remotePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.timers[jobID]; ok {
		entry.timer.Stop()
		delete(s.timers, jobID)
	}
}

// CancelAccount drops every pending retry belonging to one account.
func (s *RetryScheduler) CancelAccount(accountName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jobID, entry := range s.timers {
		if entry.accountName == accountName {
			entry.timer.Stop()
			delete(s.timers, jobID)
		}
	}
}

// Stop cancels every pending retry.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jobID, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, jobID)
	}
}

func (s *RetryScheduler) fire(jobID uint64, accountName, remotePath string) {
	s.mu.Lock()
	delete(s.timers, jobID)
	target := s.target
	s.mu.Unlock()

	if target == nil {
		return
	}

	if err := target.EnqueueRetry(accountName, remotePath); err != nil {
		clog.UsingAccount(accountName).Errorf("retry of %q failed to enqueue: %s", remotePath, err)
	}
}

// JobID derives the stable retry job identity for a transfer from its
// index key, so repeated failures of the same transfer share one timer.
func JobID(accountName, remotePath string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(BuildKey(accountName, remotePath)))
	return h.Sum64()
}
