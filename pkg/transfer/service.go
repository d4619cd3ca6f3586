package transfer

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/uteknoid/drived/pkg/clog"
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/drivedb/stor"
	"github.com/uteknoid/drived/pkg/remote"
)

// queueCapacity bounds the number of transfers waiting for the worker.
const queueCapacity = 1024

var (
	ErrServiceStopped = errors.New("transfer service is stopped")
	ErrQueueFull      = errors.New("transfer queue is full")
)

// Connectivity answers the preflight questions the worker asks before it
// touches the network.
type Connectivity interface {
	Online() bool
	OnWifi() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }
func (alwaysOnline) OnWifi() bool { return true }

// Request describes one transfer to enqueue.
type Request struct {
	AccountName        string            `json:"account_name"`
	LocalPath          string            `json:"local_path"`
	RemotePath         string            `json:"remote_path"`
	ForceOverwrite     bool              `json:"force_overwrite"`
	CreateRemoteFolder bool              `json:"create_remote_folder"`
	RequireWifi        bool              `json:"require_wifi"`
	LocalAction        model.LocalAction `json:"local_action"`
	CreatedBy          model.Origin      `json:"created_by"`
}

// Service owns one direction of transfers: a FIFO queue drained by a
// single worker goroutine, the pending index mirroring everything queued
// or executing, and the persisted records behind both. Uploads and
// downloads each get their own Service so a long upload never starves a
// download.
type Service struct {
	direction model.Direction
	stors     *stor.Stors
	clients   remote.ClientFactory
	notifier  *Notifier
	scheduler *RetryScheduler
	conn      Connectivity

	pending  *PendingIndex
	progress *progressRegistry

	queue   chan string
	stopCh  chan struct{}
	doneCh  chan struct{}
	current atomic.Pointer[Operation]

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool
}

func NewService(direction model.Direction, stors *stor.Stors, clients remote.ClientFactory, notifier *Notifier, scheduler *RetryScheduler) *Service {
	return &Service{
		direction: direction,
		stors:     stors,
		clients:   clients,
		notifier:  notifier,
		scheduler: scheduler,
		conn:      alwaysOnline{},
		pending:   NewPendingIndex(),
		progress:  newProgressRegistry(),
		queue:     make(chan string, queueCapacity),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SetConnectivity installs the network monitor. Must be called before
// Start; the default pretends the network is always up and on wifi.
func (s *Service) SetConnectivity(conn Connectivity) {
	s.conn = conn
}

// Start recovers records a previous run left mid-flight, re-enqueues the
// stored pending backlog, and launches the worker.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.recoverInterrupted()
		s.enqueueBacklog()
		s.running.Store(true)
		go s.worker()
	})
}

// Stop shuts the worker down. The currently executing transfer is
// cancelled cooperatively; queued transfers stay pending in the store and
// come back on the next Start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if op := s.current.Load(); op != nil {
			op.Cancel()
		}
		if s.running.Load() {
			<-s.doneCh
		}
	})
}

// recoverInterrupted marks records a crashed or killed run left
// in_progress, so history never shows a transfer as running forever.
// Scoped to this service's direction: the other direction's service may
// already be running transfers of its own.
func (s *Service) recoverInterrupted() {
	n, err := s.stors.TransferStor.FailInProgressTransfers(s.direction, model.ResultServiceInterrupted)
	if err != nil {
		clog.Global().Errorf("could not mark interrupted %s transfers: %s", s.direction, err)
		return
	}
	if n > 0 {
		clog.Global().Infof("marked %d interrupted %s transfer(s) as failed", n, s.direction)
	}
}

// enqueueBacklog resubmits stored pending records from earlier runs.
func (s *Service) enqueueBacklog() {
	transfers, err := s.stors.TransferStor.ListTransfers()
	if err != nil {
		clog.Global().Errorf("could not list stored transfers: %s", err)
		return
	}

	for i := range transfers {
		t := transfers[i]
		if t.Direction != s.direction || t.Status != model.StatusPending {
			continue
		}
		if _, err := s.enqueueRecord(&t); err != nil {
			clog.UsingAccount(t.AccountName).Errorf("could not re-enqueue %q: %s", t.RemotePath, err)
		}
	}
}

// Enqueue persists and queues a new transfer. When the same (account,
// remote path) pair is already pending the existing record is returned
// and nothing new is created; the bool reports whether this call added a
// transfer.
func (s *Service) Enqueue(req Request) (*model.Transfer, bool, error) {
	t := model.NewTransfer(req.AccountName, s.direction, req.LocalPath, req.RemotePath)
	t.ForceOverwrite = req.ForceOverwrite
	t.CreateRemoteFolder = req.CreateRemoteFolder
	t.RequireWifi = req.RequireWifi
	t.LocalAction = req.LocalAction
	if req.CreatedBy != "" {
		t.CreatedBy = req.CreatedBy
	}

	if err := t.Validate(); err != nil {
		return nil, false, err
	}

	// Plain vs chunked is settled here, on the request path, and rides
	// along in the record; it is never re-evaluated once queued.
	if s.direction == model.DirectionUpload {
		if fi, err := os.Stat(t.LocalPath); err == nil {
			t.FileSize = fi.Size()
		}
		decideUploadKind(t, s.stors)
	}

	op := s.newOperationFor(t)

	key, added := s.pending.PutIfAbsent(t.AccountName, t.RemotePath, op)
	if !added {
		existing, err := s.stors.TransferStor.GetTransferByPath(t.AccountName, t.RemotePath)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if _, err := s.stors.TransferStor.CreateTransfer(t); err != nil {
		s.pending.Remove(t.AccountName, t.RemotePath)
		return nil, false, err
	}

	if err := s.submit(key); err != nil {
		s.pending.Remove(t.AccountName, t.RemotePath)
		return nil, false, err
	}

	s.notifier.Publish(Event{
		Kind:        EventAdded,
		Direction:   s.direction,
		AccountName: t.AccountName,
		RemotePath:  t.RemotePath,
		LocalPath:   t.LocalPath,
	})

	return t, true, nil
}

// Retry resubmits a stored transfer by record id, typically one that
// ended in failure. A transfer that is already pending is left alone.
func (s *Service) Retry(recordID int64) error {
	t, err := s.stors.TransferStor.GetTransferByID(recordID)
	if err != nil {
		return err
	}
	if t.Direction != s.direction {
		return errors.Errorf("transfer %d is a %s, not a %s", recordID, t.Direction, s.direction)
	}

	if s.pending.Get(BuildKey(t.AccountName, t.RemotePath)) != nil {
		return nil
	}

	// Flip to pending before the worker can see it, so the status the
	// worker writes is never overwritten by this reset.
	if err := s.stors.TransferStor.UpdateTransferStatus(t, model.StatusPending); err != nil {
		return err
	}

	_, err = s.enqueueRecord(t)
	return err
}

// EnqueueRetry is the retry scheduler's entry point: resubmit the stored
// record for (account, remote path) if it is still waiting for another
// attempt.
func (s *Service) EnqueueRetry(accountName, remotePath string) error {
	t, err := s.stors.TransferStor.GetTransferByPath(accountName, remotePath)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return nil
	}

	_, err = s.enqueueRecord(t)
	return err
}

// enqueueRecord indexes and queues an already persisted record.
func (s *Service) enqueueRecord(t *model.Transfer) (bool, error) {
	op := s.newOperationFor(t)

	key, added := s.pending.PutIfAbsent(t.AccountName, t.RemotePath, op)
	if !added {
		return false, nil
	}

	if err := s.submit(key); err != nil {
		s.pending.Remove(t.AccountName, t.RemotePath)
		return false, err
	}

	return true, nil
}

func (s *Service) newOperationFor(t *model.Transfer) *Operation {
	op := newOperation(t)
	if t.IsChunked() {
		op.kind = KindChunked
		_, op.chunkSize = chunkPolicy(t.AccountName, s.stors)
	}
	op.onRename = s.handleRename
	op.progress = func(bytesRead, totalTransferred, totalToTransfer int64, remotePath string) {
		s.progress.publish(ProgressUpdate{
			AccountName:      t.AccountName,
			RemotePath:       remotePath,
			BytesRead:        bytesRead,
			TotalTransferred: totalTransferred,
			TotalToTransfer:  totalToTransfer,
		})
	}
	return op
}

func (s *Service) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Service) submit(key string) error {
	if s.stopping() {
		return ErrServiceStopped
	}

	select {
	case s.queue <- key:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel aborts the transfer at remotePath, or every pending transfer
// under it when remotePath names a folder. Cancelling something that is
// not pending is a no-op. It returns the number of transfers cancelled.
func (s *Service) Cancel(accountName, remotePath string) int {
	s.scheduler.CancelTransfer(accountName, remotePath)

	removed, unlinkedFrom := s.pending.Remove(accountName, remotePath)
	for _, op := range removed {
		s.cancelOne(op, unlinkedFrom)
	}

	return len(removed)
}

// CancelAccount aborts everything pending for an account and deletes its
// transfer history. Used when an account is removed from the device.
func (s *Service) CancelAccount(accountName string) error {
	s.scheduler.CancelAccount(accountName)

	for _, op := range s.pending.RemoveAccount(accountName) {
		s.cancelOne(op, "")
	}

	return s.stors.TransferStor.DeleteTransfersForAccount(accountName)
}

// cancelOne cancels an operation pulled out of the index. Whoever holds
// the claim finishes the transfer: when the worker already claimed it
// the cooperative cancel is enough and the worker records the outcome;
// otherwise the transfer never ran and is finished right here.
func (s *Service) cancelOne(op *Operation, unlinkedFrom string) {
	op.Cancel()

	if !op.claim() {
		return
	}

	// The transfer never ran, so drop its record rather than leaving a
	// cancelled entry in the history.
	t := op.record
	if err := s.stors.TransferStor.DeleteTransferByID(t.ID); err != nil {
		clog.UsingAccount(t.AccountName).Errorf("could not delete cancelled transfer %q: %s", t.RemotePath, err)
	}

	s.notifier.Publish(Event{
		Kind:             EventFinished,
		Direction:        s.direction,
		AccountName:      t.AccountName,
		RemotePath:       t.RemotePath,
		LocalPath:        t.LocalPath,
		Success:          false,
		UnlinkedFromPath: unlinkedFrom,
	})
}

// IsTransferring reports whether remotePath (or, for a folder, anything
// under it) is queued or executing for the account.
func (s *Service) IsTransferring(accountName, remotePath string) bool {
	return s.pending.Contains(accountName, remotePath)
}

// IsTransferringNow reports whether the worker is executing exactly this
// transfer right now.
func (s *Service) IsTransferringNow(accountName, remotePath string) bool {
	op := s.current.Load()
	return op != nil && op.AccountName() == accountName && op.RemotePath() == remotePath
}

// PendingCount returns the number of transfers queued or executing.
func (s *Service) PendingCount() int {
	return s.pending.PendingCount()
}

// Events returns a subscription to this service's lifecycle events.
func (s *Service) Events(buffer int) *Subscription {
	return s.notifier.Subscribe(buffer)
}

// SubscribeProgress returns progress updates for one pending transfer.
func (s *Service) SubscribeProgress(accountName, remotePath string) *ProgressSubscription {
	return s.progress.subscribe(accountName, remotePath)
}

func (s *Service) worker() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		case key := <-s.queue:
			s.processOne(key)
		}
	}
}

// processOne runs a single queued transfer end to end: status flip to
// in_progress, execution, index removal, retry decision, persistence of
// the outcome, and exactly one finished event.
func (s *Service) processOne(key string) {
	op := s.pending.Get(key)
	if op == nil {
		// Cancelled while it sat in the queue.
		return
	}
	if !op.claim() {
		// A cancel got to it first and already finished it.
		return
	}

	s.runClaimed(op)
}

// runClaimed executes an operation the worker has claimed. A concurrent
// cancel can still interrupt it cooperatively, but the outcome is
// recorded and announced here, once.
func (s *Service) runClaimed(op *Operation) {
	t := op.record

	if err := s.stors.TransferStor.UpdateTransferStatus(t, model.StatusInProgress); err != nil {
		clog.UsingAccount(t.AccountName).Errorf("could not mark %q in progress: %s", t.RemotePath, err)
	}

	s.current.Store(op)
	defer s.current.Store(nil)

	s.notifier.Publish(Event{
		Kind:        EventStarted,
		Direction:   s.direction,
		AccountName: t.AccountName,
		RemotePath:  t.RemotePath,
		LocalPath:   t.LocalPath,
	})

	result := s.execute(op)

	// The outcome is durable before the entry leaves the index and before
	// anyone hears about it.
	parked := s.recordOutcome(op, result)

	finalPath := op.RemotePath()
	_, unlinkedFrom := s.pending.Remove(t.AccountName, finalPath)

	// Armed only after the index entry is gone, so a fast retry can
	// re-index the transfer.
	if parked {
		s.scheduler.ScheduleTransfer(t.AccountName, finalPath)
	}

	s.publishFinished(op, result, unlinkedFrom)
}

// execute does the connectivity preflight and hands off to the operation.
func (s *Service) execute(op *Operation) Result {
	if op.IsCancelled() {
		return Result{Code: model.ResultCancelled, Err: ErrCancelled}
	}

	if !s.conn.Online() {
		return Result{Code: model.ResultNoNetwork, Err: remote.ErrNoConnection}
	}

	if op.record.RequireWifi && !s.conn.OnWifi() {
		return Result{Code: model.ResultDelayedForWifi, Err: ErrDelayedForWifi}
	}

	client, err := s.clients.ClientForAccount(op.AccountName())
	if err != nil {
		return Result{Code: model.ResultGenericFailure, Err: err}
	}

	return op.Execute(client)
}

// recordOutcome persists the result of an executed transfer. Retryable
// failures are parked as pending with the failure recorded in last_result;
// the returned bool reports whether the transfer waits for a retry.
// Everything else is terminal.
func (s *Service) recordOutcome(op *Operation, result Result) bool {
	t := op.record
	logger := clog.UsingAccount(t.AccountName)

	if ShouldScheduleRetry(result) {
		if err := s.stors.TransferStor.UpdateTransferStatusAndResult(t, model.StatusPending, result.Code); err != nil {
			logger.Errorf("could not park %q for retry: %s", t.RemotePath, err)
		}
		logger.Infof("%s of %q will be retried: %s", s.direction, t.RemotePath, result.Code)
		return true
	}

	if result.Code == model.ResultCancelled {
		if s.stopping() {
			// Interrupted by shutdown, not by the user: stays pending so
			// the next run picks it up from the backlog.
			if err := s.stors.TransferStor.UpdateTransferStatus(t, model.StatusPending); err != nil {
				logger.Errorf("could not park %q for the next run: %s", t.RemotePath, err)
			}
			return false
		}

		// A cancelled transfer leaves no history, whether it was still
		// queued or already running.
		if err := s.stors.TransferStor.DeleteTransferByID(t.ID); err != nil {
			logger.Errorf("could not delete cancelled transfer %q: %s", t.RemotePath, err)
		}
		logger.Infof("%s of %q cancelled", s.direction, t.RemotePath)
		return false
	}

	if err := s.stors.TransferStor.UpdateTransferStatusAndResult(t, statusForResult(result), result.Code); err != nil {
		logger.Errorf("could not record outcome of %q: %s", t.RemotePath, err)
	}
	if result.IsSuccess() {
		logger.Infof("%s of %q finished", s.direction, t.RemotePath)
	} else {
		logger.Infof("%s of %q failed: %s (%v)", s.direction, t.RemotePath, result.Code, result.Err)
	}
	return false
}

func (s *Service) publishFinished(op *Operation, result Result, unlinkedFrom string) {
	t := op.record
	renamed, oldPath := op.WasRenamed()

	e := Event{
		Kind:             EventFinished,
		Direction:        s.direction,
		AccountName:      t.AccountName,
		RemotePath:       t.RemotePath,
		LocalPath:        t.LocalPath,
		Success:          result.IsSuccess(),
		UnlinkedFromPath: unlinkedFrom,
	}
	if renamed {
		e.OldRemotePath = oldPath
	}
	s.notifier.Publish(e)
}

// handleRename moves a pending transfer to a new remote path after a name
// conflict. The index is re-keyed first, under its lock, then the stored
// record follows; a cancel that races the rename sees one key or the
// other, never both or neither.
func (s *Service) handleRename(op *Operation, oldPath, newPath string) bool {
	if !s.pending.ReplaceKey(op.AccountName(), oldPath, newPath) {
		return false
	}

	if err := s.stors.TransferStor.UpdateTransferRemotePath(op.record, newPath); err != nil {
		clog.UsingAccount(op.AccountName()).Errorf("could not persist rename of %q: %s", oldPath, err)
	}

	return true
}
