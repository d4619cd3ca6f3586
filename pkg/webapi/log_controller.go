package webapi

import (
	"net/http"
	"os"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/uteknoid/drived/pkg/clog"
)

// LogController adjusts logging at runtime, per account or globally.
type LogController struct {
	mu              sync.Mutex
	CurrentLogLevel string `json:"current_log_level"`
	CurrentLogFile  string `json:"current_log_file"`
}

func NewLogController() *LogController {
	return &LogController{
		CurrentLogLevel: "info",
		CurrentLogFile:  "stdout",
	}
}

func (c *LogController) SetLogLevel(ctx echo.Context) error {
	var req struct {
		Account  string `json:"account"`
		LogLevel string `json:"log_level"`
	}

	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	account := req.Account
	if account == "" {
		account = clog.GlobalAccount
	}

	if err := clog.SetLevelFromString(account, req.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %q", req.LogLevel)
	}

	c.CurrentLogLevel = req.LogLevel

	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) SetLogOutput(ctx echo.Context) error {
	var req struct {
		Account   string `json:"account"`
		LogOutput string `json:"log_output"`
	}

	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	account := req.Account
	if account == "" {
		account = clog.GlobalAccount
	}

	var w *os.File
	switch req.LogOutput {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.Create(req.LogOutput)
		if err != nil {
			return errors.Wrapf(err, "failed to open log output %s", req.LogOutput)
		}
		w = f
	}

	if err := clog.SetOutput(account, w); err != nil {
		return err
	}

	c.CurrentLogFile = req.LogOutput

	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) ShowCurrentLogging(ctx echo.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ctx.JSON(http.StatusOK, c)
}
