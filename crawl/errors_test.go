package crawl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind_Recoverable(t *testing.T) {
	assert.True(t, KindTransient.Recoverable())
	assert.True(t, KindRateLimited.Recoverable())
	assert.True(t, KindRemoteSchemaDrift.Recoverable())
	assert.True(t, KindLocalState.Recoverable())
	assert.False(t, KindFatal.Recoverable())
	assert.False(t, KindCancelled.Recoverable())
}

func TestCrawlError_UnwrapsToUnderlyingError(t *testing.T) {
	root := errors.New("boom")
	ce := NewCrawlError("fetch", KindTransient, root)

	assert.ErrorIs(t, ce, root)
	assert.Contains(t, ce.Error(), "fetch")
	assert.Contains(t, ce.Error(), "boom")
}

func TestKindOf_ClassifiesWrappedCrawlError(t *testing.T) {
	ce := NewCrawlError("persist", KindLocalState, errors.New("cursor mismatch"))
	assert.Equal(t, KindLocalState, KindOf(ce))
}

func TestKindOf_ClassifiesKnownSentinels(t *testing.T) {
	assert.Equal(t, KindFatal, KindOf(ErrPlannerNoRange))
	assert.Equal(t, KindFatal, KindOf(ErrSessionDeadline))
	assert.Equal(t, KindFatal, KindOf(ErrUnauthorized))
	assert.Equal(t, KindLocalState, KindOf(ErrCursorInconsistent))
}

func TestKindOf_NilErrorHasNoKind(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestKindOf_UnknownErrorDefaultsFatal(t *testing.T) {
	assert.Equal(t, KindFatal, KindOf(errors.New("unrecognized")))
}
