package clog

import (
	"fmt"
	"io"
	"sync"

	"github.com/apex/log"
)

// AccountLogger hands out a *log.Entry per account so that transfer
// activity for each account can be followed (and redirected) on its own.
// Accounts without a dedicated logger fall back to the global one.
type AccountLogger struct {
	GlobalLogger   *log.Logger
	accountLoggers sync.Map
}

const GlobalAccount = "global"

func NewAccountLogger(w io.WriteCloser) *AccountLogger {
	return &AccountLogger{
		GlobalLogger: &log.Logger{
			Handler: NewHandler(w),
			Level:   log.InfoLevel,
		},
	}
}

func (l *AccountLogger) AddAccount(account string, w io.WriteCloser) {
	logger := &log.Logger{
		Handler: NewHandler(w),
		Level:   log.InfoLevel,
	}
	l.accountLoggers.Store(account, logger)
}

func (l *AccountLogger) RemoveAccount(account string) {
	logger, ok := l.accountLoggers.LoadAndDelete(account)
	if !ok {
		return
	}

	if h := toHandler(logger); h != nil {
		h.Close()
	}
}

func (l *AccountLogger) SetLevel(account string, level log.Level) {
	if account == GlobalAccount {
		l.GlobalLogger.Level = level
		return
	}

	if logger := l.accountLogger(account); logger != nil {
		logger.Level = level
	}
}

func (l *AccountLogger) SetLevelFromString(account, s string) error {
	level, err := log.ParseLevel(s)
	if err != nil {
		return err
	}

	l.SetLevel(account, level)

	return nil
}

func (l *AccountLogger) SetOutput(account string, w io.WriteCloser) error {
	logger := l.accountLogger(account)
	if logger == nil {
		return fmt.Errorf("no logger for account %s", account)
	}

	h := toHandler(logger)
	if h == nil {
		return fmt.Errorf("no handler for account %s", account)
	}

	h.SetOutput(w)
	return nil
}

// UsingAccount returns an entry tagged with the account, resolved against
// the account's own logger when one was added.
func (l *AccountLogger) UsingAccount(account string) *log.Entry {
	logger := l.accountLogger(account)
	if logger == nil {
		return l.GlobalLogger.WithField("account", account)
	}
	return logger.WithField("account", account)
}

func (l *AccountLogger) Global() *log.Entry {
	return l.GlobalLogger.WithField("account", GlobalAccount)
}

func (l *AccountLogger) accountLogger(account string) *log.Logger {
	logger, ok := l.accountLoggers.Load(account)
	if !ok {
		return nil
	}

	clogger, ok := logger.(*log.Logger)
	if !ok {
		return nil
	}

	return clogger
}

func toHandler(logger interface{}) *Handler {
	clogger, ok := logger.(*log.Logger)
	if !ok {
		return nil
	}

	h, ok := clogger.Handler.(*Handler)
	if !ok {
		return nil
	}

	return h
}
