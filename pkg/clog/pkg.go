package clog

import (
	"io"
	"os"

	"github.com/apex/log"
)

var clogger = NewAccountLogger(os.Stdout)

func AddAccount(account string, w io.WriteCloser) {
	clogger.AddAccount(account, w)
}

func RemoveAccount(account string) {
	clogger.RemoveAccount(account)
}

func SetLevel(account string, level log.Level) {
	clogger.SetLevel(account, level)
}

func SetLevelFromString(account, s string) error {
	return clogger.SetLevelFromString(account, s)
}

func SetOutput(account string, w io.WriteCloser) error {
	return clogger.SetOutput(account, w)
}

func UsingAccount(account string) *log.Entry {
	return clogger.UsingAccount(account)
}

func Global() *log.Entry {
	return clogger.Global()
}
