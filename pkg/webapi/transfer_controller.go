package webapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/drivedb/stor"
	"github.com/uteknoid/drived/pkg/transfer"
)

type TransferController struct {
	uploads      *transfer.Service
	downloads    *transfer.Service
	transferStor stor.TransferStor
}

func NewTransferController(uploads, downloads *transfer.Service, transferStor stor.TransferStor) *TransferController {
	return &TransferController{
		uploads:      uploads,
		downloads:    downloads,
		transferStor: transferStor,
	}
}

func (c *TransferController) serviceFor(direction model.Direction) *transfer.Service {
	if direction == model.DirectionDownload {
		return c.downloads
	}
	return c.uploads
}

// EnqueueTransfer queues a single file transfer. Responds 201 when a new
// transfer was added and 200 with the existing record when the same
// (account, remote path) pair was already pending.
func (c *TransferController) EnqueueTransfer(ctx echo.Context) error {
	var req struct {
		Direction model.Direction `json:"direction"`
		transfer.Request
	}

	if err := ctx.Bind(&req); err != nil {
		return ctx.NoContent(http.StatusBadRequest)
	}

	record, added, err := c.serviceFor(req.Direction).Enqueue(req.Request)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody(err))
	}

	if !added {
		return ctx.JSON(http.StatusOK, record)
	}

	return ctx.JSON(http.StatusCreated, record)
}

// EnqueueFolder queues an upload for every file under a local folder.
func (c *TransferController) EnqueueFolder(ctx echo.Context) error {
	var req transfer.Request

	if err := ctx.Bind(&req); err != nil {
		return ctx.NoContent(http.StatusBadRequest)
	}

	added, err := c.uploads.EnqueueFolder(req)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody(err))
	}

	return ctx.JSON(http.StatusCreated, map[string]int{"added": added})
}

// CancelTransfer cancels the pending transfer at remote_path, cascading
// over a folder. Cancelling something that is not pending is not an error.
func (c *TransferController) CancelTransfer(ctx echo.Context) error {
	accountName := ctx.QueryParam("account")
	remotePath := ctx.QueryParam("remote_path")
	if accountName == "" || remotePath == "" {
		return ctx.NoContent(http.StatusBadRequest)
	}

	cancelled := c.serviceFor(model.Direction(ctx.QueryParam("direction"))).Cancel(accountName, remotePath)

	return ctx.JSON(http.StatusOK, map[string]int{"cancelled": cancelled})
}

// CancelAccountTransfers drops everything pending for an account along
// with its transfer history.
func (c *TransferController) CancelAccountTransfers(ctx echo.Context) error {
	accountName := ctx.Param("account")

	if err := c.uploads.CancelAccount(accountName); err != nil {
		return ctx.JSON(http.StatusInternalServerError, errorBody(err))
	}
	if err := c.downloads.CancelAccount(accountName); err != nil {
		return ctx.JSON(http.StatusInternalServerError, errorBody(err))
	}

	return ctx.NoContent(http.StatusNoContent)
}

// GetTransferStatus reports whether remote_path is queued or executing,
// along with the latest stored record for it when one exists.
func (c *TransferController) GetTransferStatus(ctx echo.Context) error {
	accountName := ctx.QueryParam("account")
	remotePath := ctx.QueryParam("remote_path")
	if accountName == "" || remotePath == "" {
		return ctx.NoContent(http.StatusBadRequest)
	}

	resp := struct {
		Pending bool            `json:"pending"`
		Record  *model.Transfer `json:"record,omitempty"`
	}{
		Pending: c.uploads.IsTransferring(accountName, remotePath) ||
			c.downloads.IsTransferring(accountName, remotePath),
	}

	if record, err := c.transferStor.GetTransferByPath(accountName, remotePath); err == nil {
		resp.Record = record
	}

	return ctx.JSON(http.StatusOK, resp)
}

// ListTransfers returns the transfer history, optionally scoped to one
// account with ?account=.
func (c *TransferController) ListTransfers(ctx echo.Context) error {
	var (
		transfers []model.Transfer
		err       error
	)

	if accountName := ctx.QueryParam("account"); accountName != "" {
		transfers, err = c.transferStor.ListTransfersForAccount(accountName)
	} else {
		transfers, err = c.transferStor.ListTransfers()
	}

	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, errorBody(err))
	}

	return ctx.JSON(http.StatusOK, transfers)
}

// DeleteTransferHistory removes the stored records for one remote path.
// Pending transfers must be cancelled first.
func (c *TransferController) DeleteTransferHistory(ctx echo.Context) error {
	accountName := ctx.QueryParam("account")
	remotePath := ctx.QueryParam("remote_path")
	if accountName == "" || remotePath == "" {
		return ctx.NoContent(http.StatusBadRequest)
	}

	if c.uploads.IsTransferring(accountName, remotePath) || c.downloads.IsTransferring(accountName, remotePath) {
		return ctx.JSON(http.StatusConflict, map[string]string{"error": "transfer is pending, cancel it first"})
	}

	if err := c.transferStor.DeleteTransferByPath(accountName, remotePath); err != nil {
		return ctx.JSON(http.StatusInternalServerError, errorBody(err))
	}

	return ctx.NoContent(http.StatusNoContent)
}

// RetryTransfer resubmits a stored transfer by id.
func (c *TransferController) RetryTransfer(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return ctx.NoContent(http.StatusBadRequest)
	}

	record, err := c.transferStor.GetTransferByID(id)
	if err != nil {
		return ctx.NoContent(http.StatusNotFound)
	}

	if err := c.serviceFor(record.Direction).Retry(id); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody(err))
	}

	return ctx.NoContent(http.StatusAccepted)
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}
