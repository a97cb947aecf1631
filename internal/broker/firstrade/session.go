package firstrade

import (
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	"vwap-band-bot/internal/api"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/types"
)

const sessionBase = "https://api3x.firstrade.com"

// Session is an authenticated brokerage session. Login is a two-step flow:
// Login may report that a one-time PIN was sent, in which case LoginTwoFA
// must complete before any account call.
type Session struct {
	client *api.Client
	creds  Credentials

	accessToken string
	accountID   string
}

// ErrNeedTwoFactor is returned by Login when the brokerage requires a
// one-time PIN before the session becomes usable.
var ErrNeedTwoFactor = errors.New("two-factor PIN required")

func NewSession(creds Credentials) (*Session, error) {
	return newSessionWithBase(creds, sessionBase)
}

func newSessionWithBase(creds Credentials, base string) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Session{
		client: api.NewClient(
			api.WithBaseURL(base),
			api.WithTimeout(20*time.Second),
			api.WithCookieJar(jar),
			api.WithHeader("User-Agent", api.BrowserHeaders()["User-Agent"]),
		),
		creds: creds,
	}, nil
}

type authResponse struct {
	Token       string `json:"access_token"`
	MFARequired bool   `json:"mfa_required"`
	Error       string `json:"error"`
}

// Login authenticates with username and password. Returns ErrNeedTwoFactor
// when a PIN challenge was issued; any other non-nil error is fatal.
func (s *Session) Login(ctx context.Context) error {
	form := url.Values{
		"username": {s.creds.Username},
		"password": {s.creds.Password},
		"email":    {s.creds.Email},
	}
	resp, err := s.client.PostForm(ctx, "/sess/auth", form)
	if err != nil {
		return classify("login", err)
	}

	var ar authResponse
	if err := resp.ParseJSON(&ar); err != nil {
		return fmt.Errorf("login decode: %w", err)
	}
	if ar.Error != "" {
		return fmt.Errorf("%w: %s", types.ErrAuth, ar.Error)
	}
	if ar.MFARequired {
		logger.Info(ctx, "Brokerage requested a one-time PIN")
		return ErrNeedTwoFactor
	}
	if ar.Token == "" {
		return fmt.Errorf("%w: empty access token", types.ErrAuth)
	}
	s.accessToken = ar.Token
	return s.selectAccount(ctx)
}

// LoginTwoFA completes the PIN challenge started by Login.
func (s *Session) LoginTwoFA(ctx context.Context, code string) error {
	form := url.Values{"mfa_code": {code}}
	resp, err := s.client.PostForm(ctx, "/sess/mfa", form)
	if err != nil {
		return classify("login_mfa", err)
	}

	var ar authResponse
	if err := resp.ParseJSON(&ar); err != nil {
		return fmt.Errorf("mfa decode: %w", err)
	}
	if ar.Error != "" || ar.Token == "" {
		return fmt.Errorf("%w: pin rejected", types.ErrAuth)
	}
	s.accessToken = ar.Token
	return s.selectAccount(ctx)
}

type accountListResponse struct {
	Items []struct {
		AccountNumber string `json:"account_number"`
	} `json:"items"`
}

// selectAccount picks the first account on the profile, matching the
// original operator workflow.
func (s *Session) selectAccount(ctx context.Context) error {
	resp, err := s.client.GET(ctx, "/account/list", s.authHeaders())
	if err != nil {
		return classify("account_list", err)
	}
	var al accountListResponse
	if err := resp.ParseJSON(&al); err != nil {
		return fmt.Errorf("account list decode: %w", err)
	}
	if len(al.Items) == 0 {
		return fmt.Errorf("%w: no accounts on profile", types.ErrAuth)
	}
	s.accountID = al.Items[0].AccountNumber
	logger.Info(ctx, "Brokerage session established", "account", s.accountID)
	return nil
}

func (s *Session) authHeaders() map[string]string {
	return map[string]string{"access-token": s.accessToken}
}

// classify maps transport failures onto the domain error taxonomy.
// Authentication statuses are fatal; rate limits and server errors are
// transient and eligible for retry.
func classify(op string, err error) error {
	var se *api.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 401 || se.Code == 403:
			return fmt.Errorf("%w: %s", types.ErrAuth, op)
		case se.Code == 429 || se.Code >= 500:
			return types.Transient(op, err)
		}
		return err
	}
	return types.Transient(op, err)
}
