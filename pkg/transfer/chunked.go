package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/uteknoid/drived/pkg/clog"
	"github.com/uteknoid/drived/pkg/remote"
)

// stagingRoot is the server-side namespace chunked uploads are assembled
// under before being moved to their final path.
const stagingRoot = "/.uploads"

// chunkAttempts is how many times a single chunk is retried on a
// connectivity error before the whole upload fails. Progress made by
// earlier chunks is kept; only the failing chunk is re-sent.
const chunkAttempts = 3

// runChunkedUpload stages the file as fixed size pieces under a session
// folder, then asks the server to assemble them at the target path. The
// staging folder is removed on any outcome other than success; the server
// removes it itself as part of assembly.
func (op *Operation) runChunkedUpload(client remote.Client) (err error) {
	stagingPath := stagingRoot + "/" + op.record.TransferSessionID

	if err = client.CreateFolder(op.cancelCtx, stagingPath, true); err != nil {
		return err
	}

	defer func() {
		if err == nil {
			return
		}
		// Cancellation or failure: best effort cleanup, on a fresh
		// context since op.cancelCtx may already be dead.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if rmErr := client.RemoveFolder(cleanupCtx, stagingPath); rmErr != nil {
			clog.UsingAccount(op.AccountName()).Warnf("could not remove staging folder %q: %s", stagingPath, rmErr)
		}
	}()

	f, err := os.Open(op.record.LocalPath)
	if err != nil {
		return err
	}
	defer f.Close()

	size := op.record.FileSize
	var sent int64
	for index := 0; sent < size; index++ {
		if err = op.checkCancelled(); err != nil {
			return err
		}

		chunkLen := op.chunkSize
		if remaining := size - sent; remaining < chunkLen {
			chunkLen = remaining
		}

		if err = op.uploadOneChunk(client, stagingPath, f, index, sent, chunkLen); err != nil {
			return err
		}

		sent += chunkLen
		op.reportProgress(chunkLen, sent, size, "")
	}

	if err = op.checkCancelled(); err != nil {
		return err
	}

	return client.AssembleChunks(op.cancelCtx, stagingPath, op.RemotePath())
}

// uploadOneChunk sends the chunk at [offset, offset+length), retrying on
// connectivity errors. A retry resends just this chunk from its start.
func (op *Operation) uploadOneChunk(client remote.Client, stagingPath string, f *os.File, index int, offset, length int64) error {
	var err error
	for attempt := 0; attempt < chunkAttempts; attempt++ {
		if cErr := op.checkCancelled(); cErr != nil {
			return cErr
		}

		section := io.NewSectionReader(f, offset, length)
		err = client.UploadChunk(op.cancelCtx, stagingPath, index, section, length)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || !remote.IsConnectivityError(err) {
			return err
		}

		clog.UsingAccount(op.AccountName()).Warnf("chunk %d of %q failed (attempt %d): %s", index, op.RemotePath(), attempt+1, err)
	}

	return err
}
