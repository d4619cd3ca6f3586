package transfer

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/uteknoid/drived/pkg/clog"
	"github.com/uteknoid/drived/pkg/remote"
)

// runDownload streams the remote file into a temporary sibling of the
// target and moves it into place only once the body arrived intact, so a
// half written download never shadows the real file.
func (op *Operation) runDownload(client remote.Client) error {
	target := op.record.LocalPath

	if !op.record.ForceOverwrite {
		if _, err := os.Stat(target); err == nil {
			return ErrInvalidOverwrite
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrapf(ErrLocalStorageNotMoved, "mkdir for %q: %s", target, err)
	}

	tmpPath := target + ".part"
	if err := client.DownloadFile(op.cancelCtx, op.RemotePath(), tmpPath, op.reportProgress); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			clog.UsingAccount(op.AccountName()).Warnf("could not remove partial download %q: %s", tmpPath, rmErr)
		}
		return err
	}

	if err := op.checkCancelled(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(ErrLocalStorageNotMoved, "move into %q: %s", target, err)
	}

	return nil
}
