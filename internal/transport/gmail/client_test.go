package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/internal/credentials"
	"outreach/internal/domain"
	"outreach/internal/transport"
)

const sendURL = "https://gmail.test/gmail/v1/users/me/messages/send"

type staticCreds struct {
	token string
	err   error
}

func (s staticCreds) Resolve(ctx context.Context, account domain.SenderAccount) (credentials.Credential, error) {
	return credentials.Credential{AccessToken: s.token}, s.err
}

func newClient(mt *httpmock.MockTransport, creds CredentialResolver) *Client {
	return &Client{HTTP: &http.Client{Transport: mt}, BaseURL: "https://gmail.test", Credentials: creds}
}

var acct = domain.SenderAccount{Address: "sales@example.com", DisplayName: "Sales Team", Kind: domain.AccountGmail}

func TestSendPostsRawMessage(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, sendURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer at-1", req.Header.Get("Authorization"))
		var in sendRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		raw, err := base64.URLEncoding.DecodeString(in.Raw)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "To: <ana@example.com>")
		assert.Contains(t, string(raw), `From: "Sales Team" <sales@example.com>`)
		assert.Contains(t, string(raw), "Content-Type: text/html")
		assert.Contains(t, string(raw), "<p>Hi Ana</p>")
		return httpmock.NewJsonResponse(200, map[string]string{"id": "gm-1", "threadId": "t-1"})
	})

	res, err := newClient(mt, staticCreds{token: "at-1"}).Send(context.Background(), acct, transport.Message{
		To: "ana@example.com", Subject: "Hello", HTML: "<p>Hi Ana</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "gm-1", res.MessageID)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestSendClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   any
		want   transport.Kind
	}{
		{"unauthorized", 401, map[string]any{"error": map[string]any{"code": 401, "message": "Invalid Credentials"}}, transport.KindAuth},
		{"scope", 403, map[string]any{"error": map[string]any{"code": 403, "message": "Insufficient Permission"}}, transport.KindAuth},
		{"user rate", 403, map[string]any{"error": map[string]any{"code": 403, "message": "User-rate limit exceeded",
			"errors": []map[string]string{{"reason": "userRateLimitExceeded"}}}}, transport.KindRateLimited},
		{"too many", 429, map[string]any{"error": map[string]any{"code": 429, "message": "slow down"}}, transport.KindRateLimited},
		{"server", 503, map[string]any{"error": map[string]any{"code": 503, "message": "backend"}}, transport.KindTransient},
		{"bad request", 400, map[string]any{"error": map[string]any{"code": 400, "message": "Invalid To header"}}, transport.KindRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mt := httpmock.NewMockTransport()
			mt.RegisterResponder(http.MethodPost, sendURL, httpmock.NewJsonResponderOrPanic(tc.status, tc.body))

			_, err := newClient(mt, staticCreds{token: "at"}).Send(context.Background(), acct, transport.Message{To: "ana@example.com"})
			require.Error(t, err)
			assert.Equal(t, tc.want, transport.KindOf(err))
		})
	}
}

func TestSendNetworkErrorIsTransient(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, sendURL, httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	_, err := newClient(mt, staticCreds{token: "at"}).Send(context.Background(), acct, transport.Message{To: "ana@example.com"})
	assert.Equal(t, transport.KindTransient, transport.KindOf(err))
}

func TestSendCredentialErrorPassesThrough(t *testing.T) {
	mt := httpmock.NewMockTransport()
	credErr := errors.Join(credentials.ErrCredential, errors.New("invalid_grant"))

	_, err := newClient(mt, staticCreds{err: credErr}).Send(context.Background(), acct, transport.Message{To: "ana@example.com"})
	assert.ErrorIs(t, err, credentials.ErrCredential)
	assert.Equal(t, 0, mt.GetTotalCallCount())
}

func TestSendInvalidRecipientIsRejectedWithoutCall(t *testing.T) {
	mt := httpmock.NewMockTransport()
	_, err := newClient(mt, staticCreds{token: "at"}).Send(context.Background(), acct, transport.Message{To: "not an address"})
	assert.Equal(t, transport.KindRejected, transport.KindOf(err))
	assert.Equal(t, 0, mt.GetTotalCallCount())
}
