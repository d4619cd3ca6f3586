package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// MockClient records every remote action and returns scripted results.
// Hooks let tests coordinate with a transfer mid-flight (eg to cancel a
// running operation at a deterministic point).
type MockClient struct {
	mu       sync.Mutex
	calls    []string
	err      error
	errByOp  map[string]error
	existing map[string]bool

	UploadHook func(ctx context.Context, localPath, remotePath string) error
	ChunkHook  func(ctx context.Context, stagingPath string, chunkIndex int) error
}

func NewMockClient() *MockClient {
	return &MockClient{
		errByOp:  make(map[string]error),
		existing: make(map[string]bool),
	}
}

func (c *MockClient) SetError(err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	return c
}

func (c *MockClient) SetErrorFor(op string, err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errByOp[op] = err
	return c
}

func (c *MockClient) SetExisting(remotePath string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.existing[remotePath] = true
	return c
}

func (c *MockClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make([]string, len(c.calls))
	copy(calls, c.calls)
	return calls
}

func (c *MockClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *MockClient) record(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, op)

	if err, ok := c.errByOp[opName(op)]; ok {
		return err
	}

	return c.err
}

func opName(op string) string {
	for i := 0; i < len(op); i++ {
		if op[i] == ' ' {
			return op[:i]
		}
	}
	return op
}

func (c *MockClient) UploadFile(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	if err := c.record("upload " + remotePath); err != nil {
		return err
	}

	if c.UploadHook != nil {
		if err := c.UploadHook(ctx, localPath, remotePath); err != nil {
			return err
		}
	}

	if progress != nil {
		progress(1, 1, 1, remotePath)
	}

	return nil
}

func (c *MockClient) DownloadFile(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error {
	if err := c.record("download " + remotePath); err != nil {
		return err
	}

	if err := os.WriteFile(localPath, []byte("mock body"), 0644); err != nil {
		return err
	}

	if progress != nil {
		progress(1, 1, 1, remotePath)
	}

	return nil
}

func (c *MockClient) CreateFolder(ctx context.Context, remotePath string, createFullPath bool) error {
	return c.record("create_folder " + remotePath)
}

func (c *MockClient) RemoveFolder(ctx context.Context, remotePath string) error {
	return c.record("remove_folder " + remotePath)
}

func (c *MockClient) MoveFile(ctx context.Context, sourceRemotePath, targetRemotePath string) error {
	return c.record("move " + sourceRemotePath + " " + targetRemotePath)
}

func (c *MockClient) FileExists(ctx context.Context, remotePath string) (bool, error) {
	if err := c.record("exists " + remotePath); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existing[remotePath], nil
}

func (c *MockClient) UploadChunk(ctx context.Context, stagingPath string, chunkIndex int, data io.Reader, size int64) error {
	if err := c.record(fmt.Sprintf("upload_chunk %s %d", stagingPath, chunkIndex)); err != nil {
		return err
	}

	if c.ChunkHook != nil {
		if err := c.ChunkHook(ctx, stagingPath, chunkIndex); err != nil {
			return err
		}
	}

	_, err := io.Copy(io.Discard, data)
	return err
}

func (c *MockClient) AssembleChunks(ctx context.Context, stagingPath, targetRemotePath string) error {
	return c.record("assemble " + stagingPath + " " + targetRemotePath)
}

// MockClientFactory returns the same client for every account.
type MockClientFactory struct {
	Client Client
	Err    error
}

func (f *MockClientFactory) ClientForAccount(accountName string) (Client, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Client, nil
}
