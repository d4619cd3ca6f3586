/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/uteknoid/drived/pkg/config"
	"github.com/uteknoid/drived/pkg/drivedb"
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/drivedb/stor"
	"github.com/uteknoid/drived/pkg/remote"
	"github.com/uteknoid/drived/pkg/transfer"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drived",
	Short: "Run the drived file transfer daemon",
	Long: `The drived daemon moves files between local storage and remote DAV
servers. It keeps one FIFO queue per direction, persists every transfer
as queryable history, retries transfers that failed for want of a
network, and streams lifecycle events to clients over a websocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(middleware.Recover())

		c := config.MustLoadFromDriveDotenv()

		db := drivedb.MustConnectToDB()
		if err := db.AutoMigrate(&model.Transfer{}, &model.Capability{}); err != nil {
			log.Fatalf("Unable to migrate database: %s", err)
		}

		stors := stor.NewGormStors(db)
		clients := remote.NewDavClientFactory()

		retryDelay := time.Duration(c.GetInt64KeyWithDefault("DRIVED_RETRY_DELAY_SECONDS", 30)) * time.Second

		uploadScheduler := transfer.NewRetryScheduler(retryDelay)
		uploads := transfer.NewService(model.DirectionUpload, stors, clients, transfer.NewNotifier(), uploadScheduler)
		uploadScheduler.SetTarget(uploads)

		downloadScheduler := transfer.NewRetryScheduler(retryDelay)
		downloads := transfer.NewService(model.DirectionDownload, stors, clients, transfer.NewNotifier(), downloadScheduler)
		downloadScheduler.SetTarget(downloads)

		uploads.Start()
		downloads.Start()

		setupRoutes(e, RouteOpts{
			uploads:   uploads,
			downloads: downloads,
			stors:     stors,
			clients:   clients,
		})

		go func() {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			log.Infof("Shutting down drived...")
			uploads.Stop()
			downloads.Stop()
			uploadScheduler.Stop()
			downloadScheduler.Stop()
			e.Close()
		}()

		if err := e.Start(":" + c.GetKeyWithDefault("DRIVED_PORT", "1350")); err != nil {
			log.Infof("Server stopped: %s", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
