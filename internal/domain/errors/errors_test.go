package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError(http.StatusBadRequest, "bad cursor", nil)
	assert.Equal(t, "bad cursor", err.Error())

	wrapped := NewAppError(http.StatusBadRequest, "bad cursor", ErrInvalidCursor)
	assert.Equal(t, "bad cursor: invalid cursor", wrapped.Error())
}

func TestConstructorsCarrySentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		code     int
	}{
		{NotFound("model"), ErrNotFound, http.StatusNotFound},
		{BadRequest("nope"), ErrInvalidInput, http.StatusBadRequest},
		{InvalidCursor("len"), ErrInvalidCursor, http.StatusBadRequest},
		{Provider("get_events", stderrors.New("dial")), ErrProviderUnavailable, http.StatusBadGateway},
		{Storage(stderrors.New("locked")), ErrStorage, http.StatusInternalServerError},
		{DecodeEvent("StoreSetRecord", stderrors.New("short")), ErrDecodeEvent, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		assert.True(t, stderrors.Is(tc.err, tc.sentinel), "%v should wrap %v", tc.err, tc.sentinel)
		var appErr *AppError
		assert.True(t, stderrors.As(tc.err, &appErr))
		assert.Equal(t, tc.code, appErr.Code)
	}
}

func TestProviderKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Provider("block_number", cause)
	assert.True(t, stderrors.Is(err, cause))
}
