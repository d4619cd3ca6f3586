package model

import "errors"

var (
	ErrNoLocalPath   = errors.New("local path must be an absolute path in the local file system")
	ErrBadRemotePath = errors.New("remote path must be an absolute path starting with '/'")
	ErrNoAccount     = errors.New("invalid account name")
)
