package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsUnwrap(t *testing.T) {
	cause := errors.New("boom")

	var ve *ValidationError
	assert.True(t, errors.As(Validation("bad field", cause), &ve))
	assert.ErrorIs(t, ve, cause)

	var ue *UpstreamUnavailableError
	assert.True(t, errors.As(UpstreamUnavailable("arweave", cause), &ue))
	assert.Equal(t, "arweave", ue.Upstream)

	var se *StoreError
	assert.True(t, errors.As(Store("put", cause), &se))

	assert.True(t, errors.As(NotFound("did:arweave:x"), new(*NotFoundError)))
	assert.True(t, errors.As(OwnershipDenied("did:gun:x"), new(*OwnershipDeniedError)))
	assert.True(t, errors.As(Conflict("did:gun:x", "stale version"), new(*ConflictError)))
	assert.True(t, errors.As(CapacityExceeded("jobs"), new(*CapacityExceededError)))
}
