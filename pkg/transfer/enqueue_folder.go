package transfer

import (
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/saracen/walker"

	"github.com/uteknoid/drived/pkg/clog"
	"github.com/uteknoid/drived/pkg/drivedb/model"
)

// EnqueueFolder walks localRoot and enqueues an upload for every regular
// file under it, mirroring the tree below remoteRoot. Files already
// pending are skipped by the usual dedup. Returns the number of uploads
// added.
func (s *Service) EnqueueFolder(req Request) (int, error) {
	if s.direction != model.DirectionUpload {
		return 0, errors.New("folders can only be enqueued for upload")
	}

	localRoot := filepath.Clean(req.LocalPath)
	fi, err := os.Stat(localRoot)
	if err != nil {
		return 0, err
	}
	if !fi.IsDir() {
		return 0, errors.Errorf("%q is not a folder", localRoot)
	}

	var paths []string
	err = walker.Walk(localRoot, func(pathname string, fi os.FileInfo) error {
		if fi.Mode().IsRegular() {
			paths = append(paths, pathname)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	added := 0
	for _, localPath := range paths {
		rel, err := filepath.Rel(localRoot, localPath)
		if err != nil {
			clog.UsingAccount(req.AccountName).Warnf("skipping %q: %s", localPath, err)
			continue
		}

		fileReq := req
		fileReq.LocalPath = localPath
		fileReq.RemotePath = path.Join(req.RemotePath, filepath.ToSlash(rel))
		fileReq.CreateRemoteFolder = true

		if _, ok, err := s.Enqueue(fileReq); err != nil {
			return added, errors.Wrapf(err, "enqueue %q", localPath)
		} else if ok {
			added++
		}
	}

	return added, nil
}
