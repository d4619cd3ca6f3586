package cmd

import (
	"github.com/labstack/echo/v4"

	"github.com/uteknoid/drived/pkg/drivedb/stor"
	"github.com/uteknoid/drived/pkg/remote"
	"github.com/uteknoid/drived/pkg/transfer"
	"github.com/uteknoid/drived/pkg/webapi"
)

type RouteOpts struct {
	uploads   *transfer.Service
	downloads *transfer.Service
	stors     *stor.Stors
	clients   *remote.DavClientFactory
}

func setupRoutes(e *echo.Echo, opts RouteOpts) {
	g := e.Group("/api")

	transferController := webapi.NewTransferController(opts.uploads, opts.downloads, opts.stors.TransferStor)
	g.POST("/transfers", transferController.EnqueueTransfer)
	g.POST("/transfers/folder", transferController.EnqueueFolder)
	g.POST("/transfers/:id/retry", transferController.RetryTransfer)
	g.DELETE("/transfers", transferController.CancelTransfer)
	g.DELETE("/transfers/history", transferController.DeleteTransferHistory)
	g.GET("/transfers", transferController.ListTransfers)
	g.GET("/transfers/status", transferController.GetTransferStatus)

	accountController := webapi.NewAccountController(opts.clients, opts.stors.CapabilityStor, opts.uploads, opts.downloads)
	g.POST("/accounts", accountController.RegisterAccount)
	g.DELETE("/accounts/:account", accountController.RemoveAccount)
	g.DELETE("/accounts/:account/transfers", transferController.CancelAccountTransfers)

	eventsController := webapi.NewEventsController(opts.uploads, opts.downloads)
	g.GET("/events", eventsController.HandleEventsConnection)

	logController := webapi.NewLogController()
	g.POST("/log/level", logController.SetLogLevel)
	g.POST("/log/output", logController.SetLogOutput)
	g.GET("/log", logController.ShowCurrentLogging)
}
