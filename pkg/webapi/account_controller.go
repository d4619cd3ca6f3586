package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/uteknoid/drived/pkg/clog"
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/drivedb/stor"
	"github.com/uteknoid/drived/pkg/remote"
	"github.com/uteknoid/drived/pkg/transfer"
)

// AccountController registers the server endpoints transfers run against.
// An account must be registered before anything can be enqueued for it.
type AccountController struct {
	factory        *remote.DavClientFactory
	capabilityStor stor.CapabilityStor
	uploads        *transfer.Service
	downloads      *transfer.Service
}

func NewAccountController(factory *remote.DavClientFactory, capabilityStor stor.CapabilityStor, uploads, downloads *transfer.Service) *AccountController {
	return &AccountController{
		factory:        factory,
		capabilityStor: capabilityStor,
		uploads:        uploads,
		downloads:      downloads,
	}
}

func (c *AccountController) RegisterAccount(ctx echo.Context) error {
	var req struct {
		AccountName     string `json:"account_name"`
		ServerURL       string `json:"server_url"`
		AuthToken       string `json:"auth_token"`
		ChunkingAllowed bool   `json:"chunking_allowed"`
		ChunkSize       int64  `json:"chunk_size"`
	}

	if err := ctx.Bind(&req); err != nil {
		return ctx.NoContent(http.StatusBadRequest)
	}

	if req.AccountName == "" || req.ServerURL == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "account_name and server_url are required"})
	}

	c.factory.RegisterAccount(req.AccountName, req.ServerURL, req.AuthToken)

	capability := &model.Capability{
		AccountName:     req.AccountName,
		ChunkingAllowed: req.ChunkingAllowed,
		ChunkSize:       req.ChunkSize,
	}
	if _, err := c.capabilityStor.SetCapabilityForAccount(capability); err != nil {
		return ctx.JSON(http.StatusInternalServerError, errorBody(err))
	}

	clog.UsingAccount(req.AccountName).Infof("registered account for %s", req.ServerURL)

	return ctx.NoContent(http.StatusCreated)
}

// RemoveAccount drops the account's endpoint, cancels everything pending
// for it and deletes its transfer history.
func (c *AccountController) RemoveAccount(ctx echo.Context) error {
	accountName := ctx.Param("account")

	c.factory.RemoveAccount(accountName)

	if err := c.uploads.CancelAccount(accountName); err != nil {
		return ctx.JSON(http.StatusInternalServerError, errorBody(err))
	}
	if err := c.downloads.CancelAccount(accountName); err != nil {
		return ctx.JSON(http.StatusInternalServerError, errorBody(err))
	}

	clog.RemoveAccount(accountName)

	return ctx.NoContent(http.StatusNoContent)
}
