// ABOUTME: Tests for channel dispatchers against httptest provider stubs
// ABOUTME: Covers request shape, receipt ids, verbatim provider errors and preflight validation

package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wrap-gateway/internal/action"
)

func TestGraphDM_Dispatch_Success(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"recipient_id":"user-9","message_id":"m_42"}`))
	}))
	defer srv.Close()

	g := NewGraphDM(srv.URL, srv.Client())
	p := &action.DMSend{RecipientID: "user-9", Message: "hello"}
	creds := Credentials{AccessToken: "tok"}
	require.NoError(t, g.Preflight(p, creds))

	res := g.Dispatch(context.Background(), p, creds)
	assert.True(t, res.Success)
	assert.Equal(t, ProviderGraph, res.Provider)
	assert.Equal(t, "m_42", res.ProviderReceiptID)
	assert.Empty(t, res.Error)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/me/messages", gotPath)
	assert.Equal(t, "RESPONSE", gotBody["messaging_type"])
	assert.Equal(t, map[string]any{"id": "user-9"}, gotBody["recipient"])
	assert.Equal(t, map[string]any{"text": "hello"}, gotBody["message"])
}

func TestGraphDM_Dispatch_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"(#100) No matching user found","code":100}}`))
	}))
	defer srv.Close()

	g := NewGraphDM(srv.URL, srv.Client())
	res := g.Dispatch(context.Background(), &action.DMSend{RecipientID: "x", Message: "hi"}, Credentials{AccessToken: "tok"})
	assert.False(t, res.Success)
	assert.Equal(t, "(#100) No matching user found", res.Error)
}

func TestGraphDM_Dispatch_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGraphDM(srv.URL, srv.Client())
	res := g.Dispatch(context.Background(), &action.DMSend{RecipientID: "x", Message: "hi"}, Credentials{AccessToken: "tok"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "502")
}

func TestGraphDM_Preflight(t *testing.T) {
	g := NewGraphDM("", nil)

	err := g.Preflight(&action.DMSend{RecipientID: "u", Message: "m"}, Credentials{})
	assert.True(t, action.IsValidation(err))
	assert.ErrorContains(t, err, "access token")

	err = g.Preflight(&action.DMSend{RecipientID: " ", Message: "m"}, Credentials{AccessToken: "t"})
	assert.ErrorContains(t, err, "recipient_id is required")

	err = g.Preflight(&action.WebsiteReply{Message: "m"}, Credentials{AccessToken: "t"})
	assert.True(t, action.IsValidation(err))
}

func TestMatrixDM_Dispatch(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"$evt1"}`))
	}))
	defer srv.Close()

	m := NewMatrixDM(srv.URL)
	p := &action.DMSend{RecipientID: "!room:example.org", Message: "hello"}
	creds := Credentials{AccessToken: "syt_tok", UserID: "@bot:example.org"}
	require.NoError(t, m.Preflight(p, creds))

	res := m.Dispatch(context.Background(), p, creds)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, ProviderMatrix, res.Provider)
	assert.Equal(t, "$evt1", res.ProviderReceiptID)
	assert.Equal(t, "Bearer syt_tok", gotAuth)
	assert.Contains(t, gotPath, "/send/m.room.message/")
	assert.Equal(t, "hello", gotBody["body"])
}

func TestMatrixDM_Dispatch_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"User not in room"}`))
	}))
	defer srv.Close()

	m := NewMatrixDM(srv.URL)
	res := m.Dispatch(context.Background(),
		&action.DMSend{RecipientID: "!room:example.org", Message: "hello"},
		Credentials{AccessToken: "t", UserID: "@bot:example.org"})
	assert.False(t, res.Success)
	assert.Equal(t, "User not in room", res.Error)
}

func TestMatrixDM_Preflight(t *testing.T) {
	m := NewMatrixDM("https://matrix.example.org")

	err := m.Preflight(&action.DMSend{RecipientID: "user", Message: "m"}, Credentials{AccessToken: "t", UserID: "@u:x"})
	assert.ErrorContains(t, err, "room id")

	err = m.Preflight(&action.DMSend{RecipientID: "!r:x", Message: "m"}, Credentials{AccessToken: "t"})
	assert.ErrorContains(t, err, "user_id")
}

func TestEmail_Dispatch_Success(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"abc123"}`))
	}))
	defer srv.Close()

	e := NewEmail(srv.URL, "", srv.Client())
	p := &action.EmailSend{To: "a@b.co", Subject: "Quote", Text: "Your **wrap** is ready"}
	creds := Credentials{AccessToken: "re_key"}
	require.NoError(t, e.Preflight(p, creds))

	res := e.Dispatch(context.Background(), p, creds)
	assert.True(t, res.Success)
	assert.Equal(t, ProviderResend, res.Provider)
	assert.Equal(t, "abc123", res.ProviderReceiptID)

	assert.Equal(t, DefaultSender, got.From)
	assert.Equal(t, []string{"a@b.co"}, got.To)
	assert.Contains(t, got.HTML, "<strong>wrap</strong>")
	assert.Equal(t, "Your **wrap** is ready", got.Text)
}

func TestEmail_Dispatch_PayloadSenderAndHTML(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	e := NewEmail(srv.URL, "Shop <shop@example.com>", srv.Client())
	assert.Equal(t, "Shop <shop@example.com>", e.Sender())

	p := &action.EmailSend{To: "a@b.co", Subject: "s", Text: "t", HTML: "<p>custom</p>", From: "Ops <ops@example.com>"}
	res := e.Dispatch(context.Background(), p, Credentials{AccessToken: "k"})
	require.True(t, res.Success)
	assert.Equal(t, "Ops <ops@example.com>", got.From)
	assert.Equal(t, "<p>custom</p>", got.HTML)
}

func TestEmail_Dispatch_ProviderErrorVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"Invalid recipient"}`))
	}))
	defer srv.Close()

	e := NewEmail(srv.URL, "", srv.Client())
	res := e.Dispatch(context.Background(), &action.EmailSend{To: "a@b.co", Subject: "s", Text: "t"}, Credentials{AccessToken: "k"})
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid recipient", res.Error)
	assert.Equal(t, ProviderResend, res.Provider)
}

func TestEmail_Dispatch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	e := NewEmail(url, "", nil)
	res := e.Dispatch(context.Background(), &action.EmailSend{To: "a@b.co", Subject: "s", Text: "t"}, Credentials{AccessToken: "k"})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestEmail_Preflight(t *testing.T) {
	e := NewEmail("", "", nil)

	err := e.Preflight(&action.EmailSend{To: "a@b.co", Subject: "s", Text: "t"}, Credentials{})
	assert.ErrorContains(t, err, "api key")

	err = e.Preflight(&action.EmailSend{To: "a@b.co", Subject: "  ", Text: "t"}, Credentials{AccessToken: "k"})
	assert.ErrorContains(t, err, "subject is required")
}

func TestWebsite(t *testing.T) {
	var w Website
	p := &action.WebsiteReply{Message: "Thanks for reaching out"}

	require.NoError(t, w.Preflight(p, Credentials{}))
	res := w.Dispatch(context.Background(), p, Credentials{})
	assert.True(t, res.Success)
	assert.Equal(t, ProviderWebsite, res.Provider)
	assert.Empty(t, res.ProviderReceiptID)

	err := w.Preflight(&action.DMSend{}, Credentials{})
	assert.True(t, action.IsValidation(err))
	assert.True(t, strings.Contains(err.Error(), "cannot send dm_send"))
}

func TestRegistry_For(t *testing.T) {
	r := Registry{action.TypeWebsiteReply: Website{}}

	d, err := r.For(action.TypeWebsiteReply)
	require.NoError(t, err)
	assert.Equal(t, ProviderWebsite, d.Provider())

	_, err = r.For(action.TypeEmailSend)
	assert.ErrorContains(t, err, "no dispatcher registered")
}
