package eventregistry

import (
	"testing"

	"github.com/cuemby/kuix/kxerrors"
	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsDeclaredParams(t *testing.T) {
	assert.NoError(t, Validate(WorkerStarted, []string{"processId", "workerId"}))
	assert.NoError(t, Validate(WorkerStarted, nil))
}

func TestValidateRejectsUnknownEvent(t *testing.T) {
	err := Validate(Name("NotARealEvent"), nil)
	assert.True(t, kxerrors.Match(err, kxerrors.KindSubscription, kxerrors.ReasonUnknownEvent))
}

func TestValidateRejectsOutOfSetParam(t *testing.T) {
	err := Validate(ProcessCreated, []string{"processId", "workerId"})
	assert.True(t, kxerrors.Match(err, kxerrors.KindSubscription, kxerrors.ReasonBadSignature))
}

func TestKnownAndParams(t *testing.T) {
	assert.True(t, Known(WorkerClosed))
	assert.False(t, Known(Name("bogus")))
	assert.ElementsMatch(t, []string{"processId", "workerId"}, Params(WorkerClosed))
}
