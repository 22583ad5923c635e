package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"outreach/internal/credentials"
	"outreach/internal/domain"
	"outreach/internal/transport"
)

const DefaultBaseURL = "https://gmail.googleapis.com"

type CredentialResolver interface {
	Resolve(ctx context.Context, account domain.SenderAccount) (credentials.Credential, error)
}

var _ transport.Sender = (*Client)(nil)

// Client sends through the Gmail API users.messages.send endpoint.
type Client struct {
	HTTP        *http.Client
	BaseURL     string
	Credentials CredentialResolver
	Now         func() time.Time
}

type sendRequest struct {
	Raw string `json:"raw"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (c *Client) Send(ctx context.Context, account domain.SenderAccount, msg transport.Message) (transport.Result, error) {
	cred, err := c.Credentials.Resolve(ctx, account)
	if err != nil {
		return transport.Result{}, err
	}

	raw, err := c.buildMIME(account, msg)
	if err != nil {
		return transport.Result{}, transport.NewError(transport.KindRejected, 0, err)
	}
	body, _ := json.Marshal(sendRequest{Raw: base64.URLEncoding.EncodeToString(raw)})

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/gmail/v1/users/me/messages/send", bytes.NewReader(body))
	if err != nil {
		return transport.Result{}, transport.NewError(transport.KindRejected, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return transport.Result{}, transport.NewError(transport.ClassifyHTTP(err, 0), 0, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(b, &ae)
		msg := ae.Error.Message
		if msg == "" {
			msg = "gmail send failed"
		}
		return transport.Result{}, transport.NewError(classify(resp.StatusCode, ae), resp.StatusCode, errors.New(msg))
	}

	var out sendResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return transport.Result{}, transport.NewError(transport.KindTransient, resp.StatusCode, fmt.Errorf("decode gmail response: %w", err))
	}
	return transport.Result{MessageID: out.ID}, nil
}

// classify refines the generic HTTP mapping: Gmail reports per-user rate and daily limits
// as 403 with a reason, and insufficient scopes as a plain 403.
func classify(status int, ae apiError) transport.Kind {
	if status == http.StatusForbidden {
		for _, e := range ae.Error.Errors {
			switch e.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded", "quotaExceeded":
				return transport.KindRateLimited
			}
		}
		return transport.KindAuth
	}
	return transport.ClassifyHTTP(nil, status)
}

func (c *Client) buildMIME(account domain.SenderAccount, msg transport.Message) ([]byte, error) {
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	from := mail.Address{Name: account.DisplayName, Address: account.Address}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return b.Bytes(), nil
}
