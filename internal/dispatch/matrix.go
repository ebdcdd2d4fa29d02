// ABOUTME: Social DM dispatcher for Matrix rooms using the mautrix client
// ABOUTME: The client is bound to the credential's user and token for each send

package dispatch

import (
	"context"
	"errors"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/wrap-gateway/internal/action"
)

// ProviderMatrix is the receipt provider name for Matrix DMs.
const ProviderMatrix = "matrix"

// MatrixDM sends direct messages into Matrix rooms. The payload's
// recipient_id is the room id.
type MatrixDM struct {
	homeserver string
}

// NewMatrixDM creates a Matrix DM dispatcher for the given homeserver URL.
func NewMatrixDM(homeserver string) *MatrixDM {
	return &MatrixDM{homeserver: homeserver}
}

// Provider returns "matrix".
func (m *MatrixDM) Provider() string { return ProviderMatrix }

// Preflight requires a room, a user id and an access token.
func (m *MatrixDM) Preflight(p action.Payload, creds Credentials) error {
	dm, err := expect[*action.DMSend](p, action.TypeDMSend)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(dm.RecipientID, "!") {
		return action.Invalid(action.TypeDMSend, "recipient_id must be a Matrix room id")
	}
	if m.homeserver == "" {
		return action.Invalid(action.TypeDMSend, "no matrix homeserver is configured")
	}
	if creds.AccessToken == "" || creds.UserID == "" {
		return action.Invalid(action.TypeDMSend, "no matrix user_id and access_token are configured")
	}
	return nil
}

// Dispatch sends the message as plain text into the recipient room.
func (m *MatrixDM) Dispatch(ctx context.Context, p action.Payload, creds Credentials) Result {
	dm, err := expect[*action.DMSend](p, action.TypeDMSend)
	if err != nil {
		return Failed(ProviderMatrix, err.Error())
	}

	client, err := mautrix.NewClient(m.homeserver, id.UserID(creds.UserID), creds.AccessToken)
	if err != nil {
		return Failed(ProviderMatrix, err.Error())
	}

	resp, err := client.SendText(ctx, id.RoomID(dm.RecipientID), dm.Message)
	if err != nil {
		return Failed(ProviderMatrix, matrixErrorText(err))
	}

	return Result{
		Success:           true,
		Provider:          ProviderMatrix,
		ProviderReceiptID: resp.EventID.String(),
	}
}

// matrixErrorText prefers the homeserver's own error message.
func matrixErrorText(err error) string {
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.RespError != nil && httpErr.RespError.Err != "" {
		return httpErr.RespError.Err
	}
	return err.Error()
}
