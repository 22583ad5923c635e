package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"outreach/internal/credentials"
	"outreach/internal/domain"
	"outreach/internal/transport"
)

type CredentialResolver interface {
	Resolve(ctx context.Context, account domain.SenderAccount) (credentials.Credential, error)
}

// Dialer is the part of *gomail.Dialer the client uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type DialerFactory func(host string, port int, username, password string) Dialer

var _ transport.Sender = (*Client)(nil)

// Client sends over SMTP with STARTTLS, one connection per message.
type Client struct {
	Credentials        CredentialResolver
	NewDialer          DialerFactory
	InsecureSkipVerify bool
}

func (c *Client) Send(ctx context.Context, account domain.SenderAccount, msg transport.Message) (transport.Result, error) {
	cred, err := c.Credentials.Resolve(ctx, account)
	if err != nil {
		return transport.Result{}, err
	}
	if account.SMTPHost == "" {
		return transport.Result{}, transport.NewError(transport.KindAuth, 0, errors.New("account has no smtp host"))
	}
	port := account.SMTPPort
	if port == 0 {
		port = 587
	}

	messageID := "<" + uuid.NewString() + "@" + domainOf(account.Address) + ">"
	m := gomail.NewMessage()
	m.SetAddressHeader("From", account.Address, account.DisplayName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-Id", messageID)
	m.SetBody("text/html", msg.HTML)

	d := c.dialer(account.SMTPHost, port, cred.Username, cred.Password)
	if err := ctx.Err(); err != nil {
		return transport.Result{}, transport.NewError(transport.KindUnavailable, 0, err)
	}
	if err := d.DialAndSend(m); err != nil {
		code := replyCode(err)
		return transport.Result{}, transport.NewError(classify(err, code), code, err)
	}
	return transport.Result{MessageID: messageID}, nil
}

func (c *Client) dialer(host string, port int, user, pass string) Dialer {
	if c.NewDialer != nil {
		return c.NewDialer(host, port, user, pass)
	}
	d := gomail.NewDialer(host, port, user, pass)
	if c.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return d
}

var codeInText = regexp.MustCompile(`(?:^|:\s)([245]\d\d)[ -]`)

// replyCode finds the SMTP reply code. gomail returns dial/auth errors as
// *textproto.Error but flattens send errors into text.
func replyCode(err error) int {
	var te *textproto.Error
	if errors.As(err, &te) {
		return te.Code
	}
	if m := codeInText.FindStringSubmatch(err.Error()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func classify(err error, code int) transport.Kind {
	switch {
	case code == 530, code == 534, code == 535:
		return transport.KindAuth
	case code == 454 && strings.Contains(strings.ToLower(err.Error()), "auth"):
		return transport.KindAuth
	case code == 421, code == 450, code == 451, code == 452:
		return transport.KindRateLimited
	case code >= 400 && code < 500:
		return transport.KindTransient
	case code >= 500:
		return transport.KindRejected
	}
	// dial failures, TLS handshakes and timeouts
	return transport.KindTransient
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
