// Package remote is the HTTP collaborator the transfer core runs against.
// Each method is one logical remote action and the unit of retryable work;
// callers never see HTTP semantics, only the classified errors in errors.go.
package remote

import (
	"context"
	"io"
)

// ProgressFunc is invoked on transfer progress checkpoints with the bytes
// moved by the last read, the running total, the expected total (-1 when
// unknown) and the path identifying the transfer.
type ProgressFunc func(bytesRead, totalTransferred, totalToTransfer int64, path string)

type Client interface {
	UploadFile(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error
	DownloadFile(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error
	CreateFolder(ctx context.Context, remotePath string, createFullPath bool) error
	RemoveFolder(ctx context.Context, remotePath string) error
	MoveFile(ctx context.Context, sourceRemotePath, targetRemotePath string) error
	FileExists(ctx context.Context, remotePath string) (bool, error)
	UploadChunk(ctx context.Context, stagingPath string, chunkIndex int, data io.Reader, size int64) error
	AssembleChunks(ctx context.Context, stagingPath, targetRemotePath string) error
}

// ClientFactory hands out a client with fresh credentials for an account.
// Always resolved per transfer so credential updates are picked up.
type ClientFactory interface {
	ClientForAccount(accountName string) (Client, error)
}
