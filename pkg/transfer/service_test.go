package transfer

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/drivedb/stor"
	"github.com/uteknoid/drived/pkg/remote"
)

type serviceFixture struct {
	service   *Service
	client    *remote.MockClient
	stors     *stor.Stors
	scheduler *RetryScheduler
	events    *Subscription
}

func newUploadFixture(t *testing.T) *serviceFixture {
	t.Helper()

	client := remote.NewMockClient()
	stors := stor.NewInMemoryStors()
	scheduler := NewRetryScheduler(25 * time.Millisecond)

	service := NewService(model.DirectionUpload, stors, &remote.MockClientFactory{Client: client}, NewNotifier(), scheduler)
	scheduler.SetTarget(service)

	t.Cleanup(func() {
		service.Stop()
		scheduler.Stop()
	})

	return &serviceFixture{
		service:   service,
		client:    client,
		stors:     stors,
		scheduler: scheduler,
		events:    service.Events(64),
	}
}

func uploadRequest(localPath, remotePath string) Request {
	return Request{
		AccountName:    "alice@server",
		LocalPath:      localPath,
		RemotePath:     remotePath,
		ForceOverwrite: true,
	}
}

func (f *serviceFixture) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-f.events.C:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (f *serviceFixture) nextEventOfKind(t *testing.T, kind EventKind) Event {
	t.Helper()
	for {
		e := f.nextEvent(t)
		if e.Kind == kind {
			return e
		}
	}
}

// waitFinishedSuccess skips over failed attempts while retries spin.
func (f *serviceFixture) waitFinishedSuccess(t *testing.T) Event {
	t.Helper()
	for {
		e := f.nextEventOfKind(t, EventFinished)
		if e.Success {
			return e
		}
	}
}

type stubConnectivity struct {
	online atomic.Bool
	wifi   atomic.Bool
}

func (c *stubConnectivity) Online() bool { return c.online.Load() }
func (c *stubConnectivity) OnWifi() bool { return c.wifi.Load() }

func TestService_UploadHappyPath(t *testing.T) {
	f := newUploadFixture(t)
	f.service.Start()

	localPath := makeLocalFile(t, 10)
	record, added, err := f.service.Enqueue(uploadRequest(localPath, "/a.txt"))
	require.NoError(t, err)
	require.True(t, added)
	require.True(t, record.IsPersisted())

	assert.Equal(t, EventAdded, f.nextEvent(t).Kind)
	assert.Equal(t, EventStarted, f.nextEvent(t).Kind)

	finished := f.nextEvent(t)
	assert.Equal(t, EventFinished, finished.Kind)
	assert.True(t, finished.Success)
	assert.Equal(t, "/a.txt", finished.RemotePath)

	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, stored.Status)
	assert.Equal(t, model.ResultSuccess, stored.LastResult)
	assert.NotNil(t, stored.EndedAt)
	assert.False(t, f.service.IsTransferring("alice@server", "/a.txt"))
}

func TestService_FIFOOrder(t *testing.T) {
	f := newUploadFixture(t)

	release := make(chan struct{})
	f.client.UploadHook = func(ctx context.Context, localPath, remotePath string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.service.Start()

	for _, p := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		_, added, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), p))
		require.NoError(t, err)
		require.True(t, added)
	}

	close(release)

	var finishedOrder []string
	for i := 0; i < 3; i++ {
		finishedOrder = append(finishedOrder, f.nextEventOfKind(t, EventFinished).RemotePath)
	}

	assert.Equal(t, []string{"/a.txt", "/b.txt", "/c.txt"}, finishedOrder)
}

func TestService_DuplicateEnqueueIsDeduped(t *testing.T) {
	f := newUploadFixture(t)

	release := make(chan struct{})
	f.client.UploadHook = func(ctx context.Context, localPath, remotePath string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.service.Start()

	localPath := makeLocalFile(t, 5)
	first, added, err := f.service.Enqueue(uploadRequest(localPath, "/a.txt"))
	require.NoError(t, err)
	require.True(t, added)

	second, added, err := f.service.Enqueue(uploadRequest(localPath, "/a.txt"))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first.ID, second.ID)

	close(release)
	f.nextEventOfKind(t, EventFinished)

	transfers, err := f.stors.TransferStor.ListTransfers()
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
}

func TestService_CancelBeforeWorkerStarts(t *testing.T) {
	f := newUploadFixture(t)

	record, added, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)
	require.True(t, added)

	assert.Equal(t, 1, f.service.Cancel("alice@server", "/a.txt"))
	// Cancelling again is a no-op.
	assert.Equal(t, 0, f.service.Cancel("alice@server", "/a.txt"))

	// The record is removed rather than kept as a cancelled entry.
	_, err = f.stors.TransferStor.GetTransferByID(record.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// The stale queue entry is skipped once the worker starts.
	f.service.Start()
	f.nextEventOfKind(t, EventFinished)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.client.CallCount())
}

func TestService_CancelWhileExecuting(t *testing.T) {
	f := newUploadFixture(t)

	executing := make(chan struct{})
	f.client.UploadHook = func(ctx context.Context, localPath, remotePath string) error {
		close(executing)
		<-ctx.Done()
		return ctx.Err()
	}

	f.service.Start()

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)

	select {
	case <-executing:
	case <-time.After(3 * time.Second):
		t.Fatal("upload never started")
	}

	assert.True(t, f.service.IsTransferringNow("alice@server", "/a.txt"))
	assert.False(t, f.service.IsTransferringNow("alice@server", "/other.txt"))
	assert.Equal(t, 1, f.service.Cancel("alice@server", "/a.txt"))

	finished := f.nextEventOfKind(t, EventFinished)
	assert.False(t, finished.Success)

	// Cancelling a running transfer drops its record just like cancelling
	// a queued one.
	_, err = f.stors.TransferStor.GetTransferByID(record.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

// A cancel arriving after the worker pulled the operation off the queue
// but before it started executing must not race the worker into a second
// finished event or a double record write.
func TestService_CancelRacingDequeueFinishesOnce(t *testing.T) {
	f := newUploadFixture(t)

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)

	// Dequeue and claim, the way the worker does, but pause before
	// execution.
	op := f.service.pending.Get(BuildKey("alice@server", "/a.txt"))
	require.NotNil(t, op)
	require.True(t, op.claim())

	// The cancel loses the claim: it only flags the operation, leaving
	// the outcome to the worker.
	assert.Equal(t, 1, f.service.Cancel("alice@server", "/a.txt"))
	_, err = f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)

	f.service.runClaimed(op)

	finished := f.nextEventOfKind(t, EventFinished)
	assert.False(t, finished.Success)
	assert.Zero(t, f.client.CallCount())

	_, err = f.stors.TransferStor.GetTransferByID(record.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	select {
	case e := <-f.events.C:
		t.Fatalf("transfer finished more than once: %+v", e)
	default:
	}
}

func TestService_StopParksRunningTransfer(t *testing.T) {
	f := newUploadFixture(t)

	executing := make(chan struct{})
	f.client.UploadHook = func(ctx context.Context, localPath, remotePath string) error {
		close(executing)
		<-ctx.Done()
		return ctx.Err()
	}

	f.service.Start()

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)

	select {
	case <-executing:
	case <-time.After(3 * time.Second):
		t.Fatal("upload never started")
	}

	f.service.Stop()

	// A shutdown interruption is not a cancel: the record stays pending
	// for the next run's backlog.
	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestService_CancelFolderCascades(t *testing.T) {
	f := newUploadFixture(t)

	for _, p := range []string{"/photos/a.jpg", "/photos/2026/b.jpg", "/docs/c.txt"} {
		_, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), p))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, f.service.Cancel("alice@server", "/photos"))
	assert.True(t, f.service.IsTransferring("alice@server", "/docs/c.txt"))
	assert.Equal(t, 1, f.service.PendingCount())
}

func TestService_CancelAccount(t *testing.T) {
	f := newUploadFixture(t)

	for _, p := range []string{"/a.txt", "/b.txt"} {
		_, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), p))
		require.NoError(t, err)
	}

	require.NoError(t, f.service.CancelAccount("alice@server"))

	assert.Equal(t, 0, f.service.PendingCount())
	transfers, err := f.stors.TransferStor.ListTransfersForAccount("alice@server")
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestService_RecoveryMarksInterrupted(t *testing.T) {
	f := newUploadFixture(t)

	record := model.NewTransfer("alice@server", model.DirectionUpload, "/tmp/gone", "/a.txt")
	_, err := f.stors.TransferStor.CreateTransfer(record)
	require.NoError(t, err)
	require.NoError(t, f.stors.TransferStor.UpdateTransferStatus(record, model.StatusInProgress))

	// A download the other service is running right now must survive this
	// service's recovery untouched.
	download := model.NewTransfer("alice@server", model.DirectionDownload, "/tmp/dl", "/b.txt")
	_, err = f.stors.TransferStor.CreateTransfer(download)
	require.NoError(t, err)
	require.NoError(t, f.stors.TransferStor.UpdateTransferStatus(download, model.StatusInProgress))

	f.service.Start()

	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Equal(t, model.ResultServiceInterrupted, stored.LastResult)
	assert.NotNil(t, stored.EndedAt)

	live, err := f.stors.TransferStor.GetTransferByID(download.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, live.Status)
}

func TestService_BacklogResumesOnStart(t *testing.T) {
	f := newUploadFixture(t)

	record := model.NewTransfer("alice@server", model.DirectionUpload, makeLocalFile(t, 5), "/a.txt")
	record.ForceOverwrite = true
	_, err := f.stors.TransferStor.CreateTransfer(record)
	require.NoError(t, err)

	f.service.Start()

	finished := f.nextEventOfKind(t, EventFinished)
	assert.True(t, finished.Success)

	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, stored.Status)
}

func TestService_ConnectivityFailureParksAndRetries(t *testing.T) {
	f := newUploadFixture(t)

	var failures atomic.Int32
	failures.Store(1)
	f.client.UploadHook = func(ctx context.Context, localPath, remotePath string) error {
		if failures.Add(-1) >= 0 {
			return remote.ErrNoConnection
		}
		return nil
	}

	f.service.Start()

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)

	first := f.nextEventOfKind(t, EventFinished)
	assert.False(t, first.Success)

	// Parked, not terminal: another attempt is coming.
	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, model.ResultNoNetwork, stored.LastResult)
	assert.Nil(t, stored.EndedAt)

	second := f.nextEventOfKind(t, EventFinished)
	assert.True(t, second.Success)

	stored, err = f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, stored.Status)
}

func TestService_WifiDeferral(t *testing.T) {
	f := newUploadFixture(t)

	conn := &stubConnectivity{}
	conn.online.Store(true)
	conn.wifi.Store(false)
	f.service.SetConnectivity(conn)

	f.service.Start()

	req := uploadRequest(makeLocalFile(t, 5), "/photo.jpg")
	req.RequireWifi = true
	req.CreatedBy = model.OriginCameraPhoto
	record, _, err := f.service.Enqueue(req)
	require.NoError(t, err)

	first := f.nextEventOfKind(t, EventFinished)
	assert.False(t, first.Success)
	assert.Zero(t, f.client.CallCount(), "must not touch the network while deferred")

	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, model.ResultDelayedForWifi, stored.LastResult)

	conn.wifi.Store(true)

	second := f.waitFinishedSuccess(t)
	assert.True(t, second.Success)
}

func TestService_OfflinePreflight(t *testing.T) {
	f := newUploadFixture(t)

	conn := &stubConnectivity{}
	f.service.SetConnectivity(conn)

	f.service.Start()

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)

	first := f.nextEventOfKind(t, EventFinished)
	assert.False(t, first.Success)
	assert.Zero(t, f.client.CallCount())

	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultNoNetwork, stored.LastResult)

	conn.online.Store(true)
	conn.wifi.Store(true)

	second := f.waitFinishedSuccess(t)
	assert.True(t, second.Success)
}

func TestService_GenericFailureDoesNotRetry(t *testing.T) {
	f := newUploadFixture(t)
	f.client.SetErrorFor("upload", remote.ErrQuotaExceeded)

	f.service.Start()

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)

	finished := f.nextEventOfKind(t, EventFinished)
	assert.False(t, finished.Success)

	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Equal(t, model.ResultQuotaExceeded, stored.LastResult)

	// No second attempt shows up.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, f.client.CallCount())
}

func TestService_RetryByRecordID(t *testing.T) {
	f := newUploadFixture(t)

	failNext := atomic.Bool{}
	failNext.Store(true)
	f.client.UploadHook = func(ctx context.Context, localPath, remotePath string) error {
		if failNext.Swap(false) {
			return remote.ErrQuotaExceeded
		}
		return nil
	}

	f.service.Start()

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)
	f.nextEventOfKind(t, EventFinished)

	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, stored.Status)

	require.NoError(t, f.service.Retry(record.ID))

	finished := f.nextEventOfKind(t, EventFinished)
	assert.True(t, finished.Success)
}

func TestService_ConflictRenamePersists(t *testing.T) {
	f := newUploadFixture(t)
	f.client.SetExisting("/docs/report.pdf")

	f.service.Start()

	req := uploadRequest(makeLocalFile(t, 5), "/docs/report.pdf")
	req.ForceOverwrite = false
	record, _, err := f.service.Enqueue(req)
	require.NoError(t, err)

	finished := f.nextEventOfKind(t, EventFinished)
	assert.True(t, finished.Success)
	assert.Equal(t, "/docs/report (2).pdf", finished.RemotePath)
	assert.Equal(t, "/docs/report.pdf", finished.OldRemotePath)

	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, "/docs/report (2).pdf", stored.RemotePath)
}

func TestService_ChunkDecisionMadeAtEnqueue(t *testing.T) {
	f := newUploadFixture(t)
	setChunkCapability(t, f.stors, "alice@server", true, 4)

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 10), "/big.bin"))
	require.NoError(t, err)

	// Decided and persisted before the worker ever runs.
	assert.True(t, record.IsChunked())
	stored, err := f.stors.TransferStor.GetTransferByID(record.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsChunked())

	f.service.Start()
	require.True(t, f.nextEventOfKind(t, EventFinished).Success)
	assert.Contains(t, f.client.Calls(), "upload_chunk "+stagingRoot+"/"+record.TransferSessionID+" 0")
}

func TestService_ChunkDecisionNotRevisitedAtExecute(t *testing.T) {
	f := newUploadFixture(t)
	setChunkCapability(t, f.stors, "alice@server", false, 4)

	record, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 10), "/big.bin"))
	require.NoError(t, err)
	assert.False(t, record.IsChunked())

	// Allowing chunking after the enqueue must not change the queued
	// transfer.
	setChunkCapability(t, f.stors, "alice@server", true, 4)

	f.service.Start()
	require.True(t, f.nextEventOfKind(t, EventFinished).Success)

	for _, call := range f.client.Calls() {
		assert.NotContains(t, call, "upload_chunk")
	}
	assert.Contains(t, f.client.Calls(), "upload /big.bin")
}

func TestService_EnqueueValidation(t *testing.T) {
	f := newUploadFixture(t)

	_, _, err := f.service.Enqueue(Request{AccountName: "alice@server", LocalPath: "/tmp/x", RemotePath: "relative/path"})
	assert.Error(t, err)

	_, _, err = f.service.Enqueue(Request{AccountName: "", LocalPath: "/tmp/x", RemotePath: "/a.txt"})
	assert.Error(t, err)
}

func TestService_ProgressSubscription(t *testing.T) {
	f := newUploadFixture(t)

	sub := f.service.SubscribeProgress("alice@server", "/a.txt")
	defer sub.Close()

	f.service.Start()

	_, _, err := f.service.Enqueue(uploadRequest(makeLocalFile(t, 5), "/a.txt"))
	require.NoError(t, err)

	select {
	case update := <-sub.C:
		assert.Equal(t, "/a.txt", update.RemotePath)
		assert.Equal(t, "alice@server", update.AccountName)
	case <-time.After(3 * time.Second):
		t.Fatal("no progress update arrived")
	}
}

func TestService_EnqueueFolder(t *testing.T) {
	f := newUploadFixture(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.txt"), []byte("b"), 0644))

	req := uploadRequest(dir, "/backup")
	added, err := f.service.EnqueueFolder(req)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	assert.True(t, f.service.IsTransferring("alice@server", "/backup/a.txt"))
	assert.True(t, f.service.IsTransferring("alice@server", "/backup/nested/b.txt"))
}
