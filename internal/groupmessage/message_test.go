package groupmessage

import "testing"

func TestMaxContentLength(t *testing.T) {
	t.Parallel()
	if MaxContentLength != 10000 {
		t.Errorf("MaxContentLength = %d, want 10000 per spec", MaxContentLength)
	}
}

func TestErrNotFoundIsNotNil(t *testing.T) {
	t.Parallel()
	if ErrNotFound == nil {
		t.Error("ErrNotFound must be a non-nil sentinel")
	}
}
