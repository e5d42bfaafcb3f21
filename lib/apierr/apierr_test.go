package apierr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownCodes(t *testing.T) {
	cases := []struct {
		code string
		kind Kind
	}{
		{CodeUnavailable, KindRetriable},
		{CodeTimeout, KindRetriable},
		{CodeTryAgain, KindRetriable},
		{CodeInvalidArgument, KindFatal},
		{CodeUnauthorized, KindFatal},
		{CodeNotFound, KindFatal},
	}
	for _, c := range cases {
		t.Run(c.code, func(t *testing.T) {
			err := Decode(c.code, "boom", false)
			assert.Equal(t, c.kind, err.Kind)
			assert.Equal(t, c.code, err.Code)
			assert.Equal(t, "boom", err.Message)
		})
	}
}

func TestDecodeUnknownCode(t *testing.T) {
	err := Decode("TEAPOT", "short and stout", false)
	assert.Equal(t, KindFatal, err.Kind)
	assert.Equal(t, CodeUnknown, err.Code)
	assert.Equal(t, UnexpectedMessage, err.Message)
	require.Error(t, errors.Unwrap(err))
	assert.Contains(t, errors.Unwrap(err).Error(), "TEAPOT")

	retry := Decode("TEAPOT", "later", true)
	assert.Equal(t, KindRetriable, retry.Kind)
	assert.Equal(t, CodeTryAgain, retry.Code)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	known := Fatal(CodeNotFound, "gone")
	assert.Same(t, known, Classify(fmt.Errorf("wrapped: %w", known)))

	assert.Equal(t, CodeTimeout, Classify(context.DeadlineExceeded).Code)
	assert.True(t, Classify(fmt.Errorf("read: %w", io.EOF)).Retriable())
	assert.True(t, Classify(fmt.Errorf("send: %w", ErrConnection)).Retriable())
	assert.True(t, Classify(&net.OpError{Op: "dial", Err: errors.New("refused")}).Retriable())

	other := Classify(errors.New("bad mapping"))
	assert.Equal(t, KindFatal, other.Kind)
	assert.Equal(t, UnexpectedMessage, other.Message)
}

func TestBind(t *testing.T) {
	calls := 0
	retriable := Retriable(CodeUnavailable, "down").Bind(func() { calls++ })
	require.NotNil(t, retriable.Retry)
	retriable.Retry()
	assert.Equal(t, 1, calls)

	fatal := Fatal(CodeInvalidArgument, "nope").Bind(func() { calls++ })
	assert.Nil(t, fatal.Retry)
}
