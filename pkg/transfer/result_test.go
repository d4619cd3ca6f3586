package transfer

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/uteknoid/drived/pkg/drivedb/model"
	"github.com/uteknoid/drived/pkg/remote"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		expected model.ResultCode
		name     string
	}{
		{err: nil, expected: model.ResultSuccess, name: "nil is success"},
		{err: ErrCancelled, expected: model.ResultCancelled, name: "cancelled sentinel"},
		{err: context.Canceled, expected: model.ResultCancelled, name: "context cancellation"},
		{err: ErrDelayedForWifi, expected: model.ResultDelayedForWifi, name: "wifi deferral"},
		{err: ErrInvalidOverwrite, expected: model.ResultInvalidOverwrite, name: "overwrite conflict"},
		{err: ErrLocalStorageNotMoved, expected: model.ResultLocalStorageNotMoved, name: "local move failure"},
		{err: errors.Wrap(ErrLocalStorageNotMoved, "mkdir"), expected: model.ResultLocalStorageNotMoved, name: "wrapped local move failure"},
		{err: remote.ErrUnauthorized, expected: model.ResultUnauthorized, name: "auth failure"},
		{err: remote.ErrQuotaExceeded, expected: model.ResultQuotaExceeded, name: "quota"},
		{err: remote.ErrNoConnection, expected: model.ResultNoNetwork, name: "no connection"},
		{err: errors.Wrap(remote.ErrNoConnection, "PUT /f"), expected: model.ResultNoNetwork, name: "wrapped no connection"},
		{err: errors.New("boom"), expected: model.ResultGenericFailure, name: "anything else"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, classify(test.err).Code)
		})
	}
}

func TestResult_NeverRetry(t *testing.T) {
	tests := []struct {
		code       model.ResultCode
		neverRetry bool
	}{
		{model.ResultCancelled, true},
		{model.ResultUnauthorized, true},
		{model.ResultInvalidOverwrite, true},
		{model.ResultNoNetwork, false},
		{model.ResultDelayedForWifi, false},
		{model.ResultGenericFailure, false},
		{model.ResultSuccess, false},
	}

	for _, test := range tests {
		assert.Equal(t, test.neverRetry, Result{Code: test.code}.NeverRetry(), "code %s", test.code)
	}
}

func TestStatusForResult(t *testing.T) {
	assert.Equal(t, model.StatusSucceeded, statusForResult(Result{Code: model.ResultSuccess}))
	assert.Equal(t, model.StatusCancelled, statusForResult(Result{Code: model.ResultCancelled}))
	assert.Equal(t, model.StatusFailed, statusForResult(Result{Code: model.ResultQuotaExceeded}))
	assert.Equal(t, model.StatusFailed, statusForResult(Result{Code: model.ResultGenericFailure}))
}

func TestShouldScheduleRetry(t *testing.T) {
	tests := []struct {
		result   Result
		expected bool
		name     string
	}{
		{Result{Code: model.ResultNoNetwork, Err: remote.ErrNoConnection}, true, "no network retries"},
		{Result{Code: model.ResultDelayedForWifi, Err: ErrDelayedForWifi}, true, "wifi deferral retries"},
		{Result{Code: model.ResultCancelled, Err: ErrCancelled}, false, "cancel never retries"},
		{Result{Code: model.ResultUnauthorized, Err: remote.ErrUnauthorized}, false, "auth never retries"},
		{Result{Code: model.ResultInvalidOverwrite, Err: ErrInvalidOverwrite}, false, "overwrite conflict never retries"},
		{Result{Code: model.ResultGenericFailure, Err: errors.New("boom")}, false, "generic failure does not retry"},
		{Result{Code: model.ResultSuccess}, false, "success does not retry"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, ShouldScheduleRetry(test.result))
		})
	}
}
