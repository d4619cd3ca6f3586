package transfer

import (
	"context"
	"errors"

	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/remote"
)

// Sentinel failures raised locally by operations. Remote failures come in
// already classified by the remote package.
var (
	ErrCancelled            = errors.New("transfer cancelled")
	ErrLocalStorageNotMoved = errors.New("downloaded file could not be moved into place")
	ErrDelayedForWifi       = errors.New("transfer delayed until wifi is available")
	ErrInvalidOverwrite     = errors.New("destination exists and overwrite is not allowed")
)

// Result is what an operation hands back to the worker. Execution never
// panics or errors across the worker boundary; everything lands here as a
// classified code plus the underlying cause (nil on success).
type Result struct {
	Code model.ResultCode
	Err  error
}

func (r Result) IsSuccess() bool {
	return r.Code == model.ResultSuccess
}

func (r Result) IsCancelled() bool {
	return r.Code == model.ResultCancelled
}

// NeverRetry reports outcomes the service must not hand to the retry
// scheduler, no matter how the failure looked.
func (r Result) NeverRetry() bool {
	switch r.Code {
	case model.ResultCancelled, model.ResultUnauthorized, model.ResultInvalidOverwrite:
		return true
	default:
		return false
	}
}

func classify(err error) Result {
	switch {
	case err == nil:
		return Result{Code: model.ResultSuccess}
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return Result{Code: model.ResultCancelled, Err: ErrCancelled}
	case errors.Is(err, ErrDelayedForWifi):
		return Result{Code: model.ResultDelayedForWifi, Err: err}
	case errors.Is(err, ErrInvalidOverwrite):
		return Result{Code: model.ResultInvalidOverwrite, Err: err}
	case errors.Is(err, ErrLocalStorageNotMoved):
		return Result{Code: model.ResultLocalStorageNotMoved, Err: err}
	case errors.Is(err, remote.ErrUnauthorized):
		return Result{Code: model.ResultUnauthorized, Err: err}
	case errors.Is(err, remote.ErrQuotaExceeded):
		return Result{Code: model.ResultQuotaExceeded, Err: err}
	case remote.IsConnectivityError(err):
		return Result{Code: model.ResultNoNetwork, Err: err}
	default:
		return Result{Code: model.ResultGenericFailure, Err: err}
	}
}

func statusForResult(r Result) model.Status {
	switch r.Code {
	case model.ResultSuccess:
		return model.StatusSucceeded
	case model.ResultCancelled:
		return model.StatusCancelled
	default:
		return model.StatusFailed
	}
}
