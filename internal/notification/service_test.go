package notification

import (
	"testing"

	"qfs/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	to, subject, body string
	err               error
	calls             int
}

func (r *recordingSender) Send(to, subject, body string) error {
	r.calls++
	r.to, r.subject, r.body = to, subject, body
	return r.err
}

func TestSendRendersTemplate(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, logger.NewNop())

	err := svc.Send(KeyTaxFee, "ada@example.com", Params{Name: "Ada", Amount: "$1,200"})
	require.NoError(t, err)

	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, "ada@example.com", sender.to)
	assert.Contains(t, sender.subject, "Tax Clearance")
	assert.Contains(t, sender.body, "Dear Ada")
	assert.Contains(t, sender.body, "$1,200")
}

func TestSendUnknownKey(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, logger.NewNop())

	err := svc.Send(Key("bogus"), "a@b.c", Params{})
	assert.Error(t, err)
	assert.Equal(t, 0, sender.calls)
}

func TestSendSurfacesDeliveryFailure(t *testing.T) {
	sender := &recordingSender{err: assert.AnError}
	svc := NewService(sender, logger.NewNop())

	err := svc.Send(KeyFinalClearance, "a@b.c", Params{Name: "Ada", Amount: "$800"})
	assert.Error(t, err)
}

func TestSendVerification(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, logger.NewNop())

	err := svc.SendVerification("ada@example.com", "Ada", "https://qfs.example/verify?token=abc")
	require.NoError(t, err)
	assert.Contains(t, sender.body, "https://qfs.example/verify?token=abc")
}
