package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

// DavClient talks to an ownCloud style WebDAV endpoint. One instance per
// account; build them through DavClientFactory so a credentials update is
// picked up on the next transfer.
type DavClient struct {
	c *resty.Client
}

func NewDavClient(serverURL, authToken string) *DavClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(serverURL, "/")).
		SetAuthToken(authToken)

	return &DavClient{c: c}
}

func (d *DavClient) UploadFile(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	finfo, err := f.Stat()
	if err != nil {
		return err
	}

	body := &progressReader{
		r:        f,
		path:     remotePath,
		total:    finfo.Size(),
		progress: progress,
	}

	resp, err := d.c.R().
		SetContext(ctx).
		SetHeader("Content-Length", strconv.FormatInt(finfo.Size(), 10)).
		SetBody(body).
		Put(davPath(remotePath))

	return d.checkResponse(resp, err, remotePath)
}

func (d *DavClient) DownloadFile(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error {
	resp, err := d.c.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(davPath(remotePath))

	if err != nil {
		return wrapTransportErr(err)
	}

	defer resp.RawBody().Close()

	if resp.StatusCode() != http.StatusOK {
		return errFromStatusCode(resp.StatusCode(), remotePath)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	body := &progressReader{
		r:        resp.RawBody(),
		path:     remotePath,
		total:    resp.RawResponse.ContentLength,
		progress: progress,
	}

	if _, err := io.Copy(f, body); err != nil {
		return wrapTransportErr(err)
	}

	return nil
}

func (d *DavClient) CreateFolder(ctx context.Context, remotePath string, createFullPath bool) error {
	if !createFullPath {
		return d.mkcol(ctx, remotePath)
	}

	var built string
	for _, part := range strings.Split(strings.Trim(remotePath, "/"), "/") {
		built = built + "/" + part
		if err := d.mkcol(ctx, built); err != nil {
			return err
		}
	}

	return nil
}

func (d *DavClient) mkcol(ctx context.Context, remotePath string) error {
	resp, err := d.c.R().
		SetContext(ctx).
		Execute("MKCOL", davPath(remotePath))

	if err != nil {
		return wrapTransportErr(err)
	}

	// 405 means the collection already exists, which is fine here.
	if resp.StatusCode() == http.StatusMethodNotAllowed {
		return nil
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		return errFromStatusCode(resp.StatusCode(), remotePath)
	}

	return nil
}

func (d *DavClient) RemoveFolder(ctx context.Context, remotePath string) error {
	resp, err := d.c.R().
		SetContext(ctx).
		Delete(davPath(remotePath))

	return d.checkResponse(resp, err, remotePath)
}

func (d *DavClient) MoveFile(ctx context.Context, sourceRemotePath, targetRemotePath string) error {
	resp, err := d.c.R().
		SetContext(ctx).
		SetHeader("Destination", d.c.BaseURL+davPath(targetRemotePath)).
		SetHeader("Overwrite", "T").
		Execute("MOVE", davPath(sourceRemotePath))

	return d.checkResponse(resp, err, sourceRemotePath)
}

func (d *DavClient) FileExists(ctx context.Context, remotePath string) (bool, error) {
	resp, err := d.c.R().
		SetContext(ctx).
		Head(davPath(remotePath))

	if err != nil {
		return false, wrapTransportErr(err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errFromStatusCode(resp.StatusCode(), remotePath)
	}
}

func (d *DavClient) UploadChunk(ctx context.Context, stagingPath string, chunkIndex int, data io.Reader, size int64) error {
	chunkPath := path.Join(stagingPath, fmt.Sprintf("%06d", chunkIndex))

	resp, err := d.c.R().
		SetContext(ctx).
		SetHeader("Content-Length", strconv.FormatInt(size, 10)).
		SetBody(data).
		Put(davPath(chunkPath))

	return d.checkResponse(resp, err, chunkPath)
}

func (d *DavClient) AssembleChunks(ctx context.Context, stagingPath, targetRemotePath string) error {
	// Server side assembly: moving the staging ".file" member instructs the
	// server to concatenate the uploaded chunks into the target.
	return d.MoveFile(ctx, path.Join(stagingPath, ".file"), targetRemotePath)
}

func (d *DavClient) checkResponse(resp *resty.Response, err error, remotePath string) error {
	if err != nil {
		return wrapTransportErr(err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		return errFromStatusCode(resp.StatusCode(), remotePath)
	}

	return nil
}

func davPath(remotePath string) string {
	return "/remote.php/dav" + remotePath
}

func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}

	if IsConnectivityError(err) {
		return fmt.Errorf("%v: %w", err, ErrNoConnection)
	}

	return err
}

type progressReader struct {
	r           io.Reader
	path        string
	total       int64
	transferred int64
	progress    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.transferred += int64(n)
		if p.progress != nil {
			p.progress(int64(n), p.transferred, p.total, p.path)
		}
	}
	return n, err
}
