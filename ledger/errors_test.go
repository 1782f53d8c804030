package ledger

import (
	"errors"
	"strings"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "request canceled" }
func (timeoutError) Timeout() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("open /x: permission denied"), ErrPermissionDenied},
		{errors.New("operation error S3: PutObject, api error AccessDenied: Access Denied"), ErrAccessDenied},
		{errors.New("write: no space left on device"), ErrDiskFull},
		{errors.New("context deadline exceeded"), ErrTimeout},
		{timeoutError{}, ErrTimeout},
		{errors.New("api error SlowDown"), ErrThrottled},
		{errors.New("failed to retrieve credentials"), ErrAuth},
		{errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), ErrNetwork},
		{errors.New("something odd"), ErrStorage},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("no space left on device")
	err := wrapError(cause, "append", "ecsu")

	if !errors.Is(err, ErrDiskFull) {
		t.Error("errors.Is(err, ErrDiskFull) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !strings.HasPrefix(err.Error(), "ledger append ecsu: ") {
		t.Errorf("Error() = %q", err.Error())
	}
	if wrapError(nil, "append", "") != nil {
		t.Error("wrapError(nil) should be nil")
	}

	noPath := &StorageError{Kind: ErrStorage, Op: "list", Err: cause}
	if noPath.Error() != "ledger list: storage error: no space left on device" {
		t.Errorf("Error() = %q", noPath.Error())
	}
}

func TestS3Config_Validate(t *testing.T) {
	cfg := S3Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with empty bucket should fail")
	}
	cfg.Bucket = "ledger-bucket"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}
