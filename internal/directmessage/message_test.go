package directmessage

import (
	"errors"
	"testing"
)

func TestSentinelErrorsAreDistinct(t *testing.T) {
	t.Parallel()
	if errors.Is(ErrNotFound, ErrForbidden) {
		t.Error("ErrNotFound and ErrForbidden must be distinct sentinels")
	}
}

func TestMaxContentLength(t *testing.T) {
	t.Parallel()
	if MaxContentLength != 10000 {
		t.Errorf("MaxContentLength = %d, want 10000 per spec", MaxContentLength)
	}
}
