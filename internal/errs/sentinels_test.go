package errs

import (
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	t.Parallel()

	if !Retryable(fmt.Errorf("fetch: %w", ErrTransport)) {
		t.Fatalf("wrapped transport error must be retryable")
	}
	for _, e := range []error{ErrNotFound, ErrPermission, ErrVersionConflict, ErrValidation, nil} {
		if Retryable(e) {
			t.Fatalf("%v must not be retryable", e)
		}
	}
}
