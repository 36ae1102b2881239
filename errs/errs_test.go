package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwraps(t *testing.T) {
	base := New("driver.dispatch", DriverError, errors.New("child exited 1"))
	wrapped := fmt.Errorf("rpc.GetBlock: %w", base)

	assert.Equal(t, DriverError, CodeOf(wrapped))
}

func TestCodeOfUnmappedDefaultsToIOError(t *testing.T) {
	assert.Equal(t, IOError, CodeOf(errors.New("boom")))
}

func TestCodeOfNil(t *testing.T) {
	assert.Equal(t, Ok, CodeOf(nil))
}

func TestRetryableOnlyNoData(t *testing.T) {
	assert.True(t, Retryable(NoData))
	assert.False(t, Retryable(DriverError))
	assert.False(t, Retryable(IOError))
}

func TestToErrnoMapping(t *testing.T) {
	cases := map[Code]Errno{
		NotFound:         ENOENT,
		AlreadyExists:    EEXIST,
		PermissionDenied: EACCES,
		NotCoordinator:   EREMOTE,
		Stale:            EREMOTE,
		DriverError:      EIO,
		IOError:          EIO,
		NoData:           EAGAIN,
		ProtocolMismatch: EPROTO,
		Busy:             EBUSY,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToErrno(code), "code %s", code)
	}
}
