package apierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus_MapsKnownCodes(t *testing.T) {
	assert.Equal(t, 404, HTTPStatus(NewNotFound("missing")))
	assert.Equal(t, 429, HTTPStatus(NewAGRateLimited(errors.New("rate limited"))))
	assert.Equal(t, 400, HTTPStatus(NewIngestionRejected("bad request")))
	assert.Equal(t, 503, HTTPStatus(NewAGUnavailable(errors.New("down"))))
	assert.Equal(t, 200, HTTPStatus(NewAGPartial(errors.New("no citations"))))
}

func TestHTTPStatus_UnknownErrorDefaultsTo500(t *testing.T) {
	assert.Equal(t, 500, HTTPStatus(errors.New("plain error")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewEmbeddingRateLimitError(errors.New("429"))))
	assert.False(t, IsTransient(NewEmbeddingAuthError(errors.New("401"))))
}
