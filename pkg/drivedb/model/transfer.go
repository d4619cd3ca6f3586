package model

import (
	"strings"
	"time"
)

type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Status is the lifecycle state of a persisted transfer.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further attempt will be made for a
// transfer in this status.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ResultCode classifies the outcome of the last attempt of a transfer.
type ResultCode string

const (
	ResultUnknown              ResultCode = "unknown"
	ResultSuccess              ResultCode = "success"
	ResultCancelled            ResultCode = "cancelled"
	ResultNoNetwork            ResultCode = "no_network"
	ResultDelayedForWifi       ResultCode = "delayed_for_wifi"
	ResultUnauthorized         ResultCode = "unauthorized"
	ResultLocalStorageNotMoved ResultCode = "local_storage_not_moved"
	ResultInvalidOverwrite     ResultCode = "invalid_overwrite"
	ResultQuotaExceeded        ResultCode = "quota_exceeded"
	ResultServiceInterrupted   ResultCode = "service_interrupted"
	ResultGenericFailure       ResultCode = "generic_failure"
)

// LocalAction is what happens to the local source file once an upload
// finished.
type LocalAction int

const (
	LocalActionCopy LocalAction = iota
	LocalActionMove
	LocalActionForget
)

// Origin tags who requested a transfer.
type Origin string

const (
	OriginUser             Origin = "user"
	OriginCameraPhoto      Origin = "camera_photo"
	OriginCameraVideo      Origin = "camera_video"
	OriginAvailableOffline Origin = "available_offline"
)

// UnpersistedID marks a Transfer that has not been stored yet.
const UnpersistedID int64 = -1

// Transfer holds everything needed to run (or re-run) one upload or
// download, and survives as history once the transfer is terminal.
type Transfer struct {
	ID                 int64       `json:"id"`
	UUID               string      `json:"uuid"`
	AccountName        string      `json:"account_name"`
	Direction          Direction   `json:"direction"`
	LocalPath          string      `json:"local_path"`
	RemotePath         string      `json:"remote_path"`
	FileSize           int64       `json:"file_size"`
	LocalAction        LocalAction `json:"local_action"`
	ForceOverwrite     bool        `json:"force_overwrite"`
	CreateRemoteFolder bool        `json:"create_remote_folder"`
	RequireWifi        bool        `json:"require_wifi"`
	Status             Status      `json:"status"`
	LastResult         ResultCode  `json:"last_result"`
	CreatedBy          Origin      `json:"created_by"`
	TransferSessionID  string      `json:"transfer_session_id"`
	EndedAt            *time.Time  `json:"ended_at"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func (Transfer) TableName() string {
	return "transfers"
}

// NewTransfer builds an unpersisted Transfer with the defaults the rest
// of the system relies on.
func NewTransfer(accountName string, direction Direction, localPath, remotePath string) *Transfer {
	return &Transfer{
		ID:          UnpersistedID,
		AccountName: accountName,
		Direction:   direction,
		LocalPath:   localPath,
		RemotePath:  remotePath,
		FileSize:    -1,
		LocalAction: LocalActionCopy,
		Status:      StatusPending,
		LastResult:  ResultUnknown,
		CreatedBy:   OriginUser,
	}
}

// Validate checks the required fields. The remote path must be absolute
// so that index keys and staging folder names stay unambiguous.
func (t *Transfer) Validate() error {
	switch {
	case t.LocalPath == "":
		return ErrNoLocalPath
	case t.RemotePath == "" || !strings.HasPrefix(t.RemotePath, "/"):
		return ErrBadRemotePath
	case len(t.AccountName) < 1:
		return ErrNoAccount
	default:
		return nil
	}
}

// SetStatus changes the status and resets LastResult: a fresh attempt has
// no result yet.
func (t *Transfer) SetStatus(status Status) {
	t.Status = status
	t.LastResult = ResultUnknown
}

// SetLastResult records the outcome of the last attempt.
func (t *Transfer) SetLastResult(result ResultCode) {
	if result == "" {
		result = ResultUnknown
	}
	t.LastResult = result
}

func (t *Transfer) IsPersisted() bool {
	return t.ID != UnpersistedID && t.ID != 0
}

// IsChunked reports whether this transfer runs through a remote staging
// folder. The session id is only ever set for chunked uploads.
func (t *Transfer) IsChunked() bool {
	return t.TransferSessionID != ""
}
