package transfer

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uteknoid/drived/pkg/clog"
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/drivedb/stor"
	"github.com/uteknoid/drived/pkg/remote"
)

// Kind selects the upload strategy for an operation.
type Kind int

const (
	KindPlain Kind = iota
	KindChunked
)

// DefaultChunkSize is used when the account has no stored capability
// entry saying otherwise.
const DefaultChunkSize int64 = 10 * 1024 * 1024

// maxRenameAttempts bounds the conflict rename loop.
const maxRenameAttempts = 1000

// renameFunc is called when an operation needs to move to a new remote
// path after a name conflict. It must re-key the pending index and the
// stored record atomically, and report whether the re-key happened.
type renameFunc func(op *Operation, oldPath, newPath string) bool

// Operation is one transfer being executed. It wraps the persisted record
// with the run-time state the worker needs: cooperative cancellation, the
// rename trail, and the progress sink.
type Operation struct {
	record    *model.Transfer
	kind      Kind
	chunkSize int64

	claimed   atomic.Bool
	cancelled atomic.Bool
	cancelCtx context.Context
	cancelFn  context.CancelFunc

	mu            sync.Mutex
	renamed       bool
	oldRemotePath string

	onRename renameFunc
	progress remote.ProgressFunc
}

func newOperation(record *model.Transfer) *Operation {
	ctx, cancel := context.WithCancel(context.Background())
	return &Operation{
		record:    record,
		kind:      KindPlain,
		chunkSize: DefaultChunkSize,
		cancelCtx: ctx,
		cancelFn:  cancel,
	}
}

func (op *Operation) AccountName() string {
	return op.record.AccountName
}

func (op *Operation) Direction() model.Direction {
	return op.record.Direction
}

func (op *Operation) LocalPath() string {
	return op.record.LocalPath
}

// RemotePath returns the current remote path, reflecting any conflict
// rename applied during execution.
func (op *Operation) RemotePath() string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.record.RemotePath
}

func (op *Operation) RecordID() int64 {
	return op.record.ID
}

func (op *Operation) Kind() Kind {
	return op.kind
}

// WasRenamed reports whether a conflict rename happened, together with
// the remote path the transfer was originally enqueued under.
func (op *Operation) WasRenamed() (bool, string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.renamed, op.oldRemotePath
}

// Cancel requests cooperative cancellation. Safe to call from any
// goroutine and any number of times; the operation notices at the next
// checkpoint and any in-flight remote call is aborted through its context.
func (op *Operation) Cancel() {
	op.cancelled.Store(true)
	op.cancelFn()
}

func (op *Operation) IsCancelled() bool {
	return op.cancelled.Load()
}

// claim marks the operation as owned by whoever finishes it: the worker
// about to execute it, or a cancel that caught it still queued. Exactly
// one caller wins, so the finished event and the record write happen once.
func (op *Operation) claim() bool {
	return op.claimed.CompareAndSwap(false, true)
}

func (op *Operation) checkCancelled() error {
	if op.cancelled.Load() {
		return ErrCancelled
	}
	return nil
}

// Execute runs the transfer to completion and classifies the outcome.
// It never returns a raw error; every failure mode, including panics in
// collaborator code, comes back as a Result.
func (op *Operation) Execute(client remote.Client) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			clog.UsingAccount(op.AccountName()).Errorf("transfer %q panicked: %v", op.RemotePath(), r)
			result = Result{Code: model.ResultGenericFailure, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := op.checkCancelled(); err != nil {
		return classify(err)
	}

	switch op.record.Direction {
	case model.DirectionDownload:
		return classify(op.runDownload(client))
	default:
		return classify(op.runUpload(client))
	}
}

func (op *Operation) runUpload(client remote.Client) error {
	fi, err := os.Stat(op.record.LocalPath)
	if err != nil {
		return err
	}
	op.record.FileSize = fi.Size()

	if op.record.CreateRemoteFolder {
		if err := client.CreateFolder(op.cancelCtx, parentOf(op.RemotePath()), true); err != nil {
			return err
		}
	}

	if err := op.checkCancelled(); err != nil {
		return err
	}

	if !op.record.ForceOverwrite {
		if err := op.resolveNameConflict(client); err != nil {
			return err
		}
	}

	if err := op.checkCancelled(); err != nil {
		return err
	}

	if op.kind == KindChunked {
		err = op.runChunkedUpload(client)
	} else {
		err = client.UploadFile(op.cancelCtx, op.record.LocalPath, op.RemotePath(), op.reportProgress)
	}
	if err != nil {
		return err
	}

	if op.record.LocalAction == model.LocalActionMove {
		if rmErr := os.Remove(op.record.LocalPath); rmErr != nil {
			clog.UsingAccount(op.AccountName()).Warnf("could not remove source %q after upload: %s", op.record.LocalPath, rmErr)
		}
	}

	return nil
}

// resolveNameConflict finds a free remote name when the target already
// exists and overwriting was not requested, then re-keys the operation to
// it. The transfer fails with an invalid overwrite when no rename hook is
// installed or the re-key loses a race to another pending transfer.
func (op *Operation) resolveNameConflict(client remote.Client) error {
	exists, err := client.FileExists(op.cancelCtx, op.RemotePath())
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	if op.onRename == nil {
		return ErrInvalidOverwrite
	}

	oldPath := op.RemotePath()
	newPath, err := op.availableRemotePath(client, oldPath)
	if err != nil {
		return err
	}

	if !op.onRename(op, oldPath, newPath) {
		return ErrInvalidOverwrite
	}

	op.mu.Lock()
	op.renamed = true
	op.oldRemotePath = oldPath
	op.record.RemotePath = newPath
	op.mu.Unlock()

	clog.UsingAccount(op.AccountName()).Infof("renamed %q to %q to avoid overwrite", oldPath, newPath)
	return nil
}

// availableRemotePath probes "name (2).ext", "name (3).ext", ... until a
// free slot is found.
func (op *Operation) availableRemotePath(client remote.Client, remotePath string) (string, error) {
	dir := parentOf(remotePath)
	base := path.Base(remotePath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 2; n < maxRenameAttempts; n++ {
		if err := op.checkCancelled(); err != nil {
			return "", err
		}

		candidate := path.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		exists, err := client.FileExists(op.cancelCtx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}

	return "", ErrInvalidOverwrite
}

// decideUploadKind runs on the request path, before the record is
// persisted: the upload goes chunked when the file is strictly larger
// than the account's chunk size and the server capability allows
// chunking. A file exactly at the threshold goes up in one request.
// Once the record is stored the decision is never revisited; a
// capability change only affects transfers enqueued after it.
func decideUploadKind(t *model.Transfer, stors *stor.Stors) {
	allowed, chunkSize := chunkPolicy(t.AccountName, stors)
	if allowed && t.FileSize > chunkSize && t.TransferSessionID == "" {
		t.TransferSessionID = newTransferSessionID(t.RemotePath)
	}
}

// chunkPolicy looks up the account's stored server capability, falling
// back to chunking allowed at DefaultChunkSize when none is stored.
func chunkPolicy(accountName string, stors *stor.Stors) (bool, int64) {
	allowed := true
	chunkSize := DefaultChunkSize

	if capability, err := stors.CapabilityStor.GetCapabilityForAccount(accountName); err == nil {
		allowed = capability.ChunkingAllowed
		if capability.ChunkSize > 0 {
			chunkSize = capability.ChunkSize
		}
	}

	return allowed, chunkSize
}

func (op *Operation) reportProgress(bytesRead, totalTransferred, totalToTransfer int64, _ string) {
	if op.progress != nil {
		op.progress(bytesRead, totalTransferred, totalToTransfer, op.RemotePath())
	}
}

// newTransferSessionID derives the staging folder name for a chunked
// upload. Hashing the remote path keeps problematic characters out of the
// staging namespace; the timestamp keeps re-uploads of the same path apart.
func newTransferSessionID(remotePath string) string {
	return fmt.Sprintf("%x%d", md5.Sum([]byte(remotePath)), time.Now().UnixMilli())
}
