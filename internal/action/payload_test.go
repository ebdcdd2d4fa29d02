// ABOUTME: Tests for payload decoding and per-variant validation
// ABOUTME: Covers the discriminated match and the error shapes callers branch on

package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_DMSend(t *testing.T) {
	p, err := Decode(TypeDMSend, []byte(`{"recipient_id":"psid-1","message":"Your wrap is ready"}`))
	require.NoError(t, err)

	dm, ok := p.(*DMSend)
	require.True(t, ok)
	assert.Equal(t, "psid-1", dm.RecipientID)
	assert.Equal(t, "Your wrap is ready", dm.Body())
	assert.Equal(t, TypeDMSend, dm.Type())
}

func TestDecode_EmailSend(t *testing.T) {
	raw := []byte(`{"to":"owner@example.com","subject":"Quote","body":"**Total:** $2,400"}`)
	p, err := Decode(TypeEmailSend, raw)
	require.NoError(t, err)

	email := p.(*EmailSend)
	assert.Equal(t, "owner@example.com", email.To)
	assert.Equal(t, "Quote", email.Subject)
	assert.Equal(t, "**Total:** $2,400", email.Body())
}

func TestDecode_MissingFields(t *testing.T) {
	tests := []struct {
		name     string
		typ      Type
		raw      string
		problems []string
	}{
		{"dm without recipient", TypeDMSend, `{"message":"hi"}`, []string{"recipient_id is required"}},
		{"dm blank message", TypeDMSend, `{"recipient_id":"1","message":"   "}`, []string{"message is required"}},
		{"email without recipient", TypeEmailSend, `{"subject":"s","body":"b"}`, []string{"to is required"}},
		{"email bad recipient", TypeEmailSend, `{"to":"nope","subject":"s","body":"b"}`, []string{"to must be a valid email address"}},
		{"email without subject", TypeEmailSend, `{"to":"a@b.co","body":"b"}`, []string{"subject is required"}},
		{"website empty", TypeWebsiteReply, `{}`, []string{"message is required"}},
		{"render without text", TypeContentRender, `{"job_id":"j"}`, []string{"text is required"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.typ, []byte(tt.raw))
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.typ, ve.Type)
			assert.Equal(t, tt.problems, ve.Problems)
		})
	}
}

func TestDecode_RejectsUnknownTypeAndBadJSON(t *testing.T) {
	_, err := Decode(Type("fax_send"), []byte(`{}`))
	assert.True(t, IsValidation(err))

	_, err = Decode(TypeDMSend, nil)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "action_payload is empty")

	_, err = Decode(TypeDMSend, []byte(`["not","an","object"]`))
	assert.True(t, IsValidation(err))
}

func TestChannelFor(t *testing.T) {
	ch, err := ChannelFor(TypeEmailSend)
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, ch)

	ch, err = ChannelFor(TypeContentRender)
	require.NoError(t, err)
	assert.Equal(t, ChannelContent, ch)

	_, err = ChannelFor("carrier_pigeon")
	assert.Error(t, err)
}

func TestStatus_Claimable(t *testing.T) {
	assert.True(t, StatusPending.Claimable())
	assert.True(t, StatusApproved.Claimable())
	assert.False(t, StatusExecuting.Claimable())
	assert.False(t, StatusSent.Claimable())
	assert.False(t, StatusFailed.Claimable())

	assert.True(t, StatusSent.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusExecuting.Terminal())
}
