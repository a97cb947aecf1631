package firstrade

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sess, err := newSessionWithBase(Credentials{Username: "alice", Password: "pw"}, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestLoginSignalsTwoFactor(t *testing.T) {
	sess := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sess/auth" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"mfa_required": true}`)
	})

	err := sess.Login(context.Background())
	if !errors.Is(err, ErrNeedTwoFactor) {
		t.Fatalf("Login = %v, want ErrNeedTwoFactor", err)
	}
	if sess.accessToken != "" {
		t.Error("no token may be stored before the PIN completes")
	}
}

func TestLoginTwoFAEstablishesSession(t *testing.T) {
	sess := testSession(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sess/mfa":
			fmt.Fprint(w, `{"access_token": "tok-123"}`)
		case "/account/list":
			if r.Header.Get("access-token") != "tok-123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"items":[{"account_number":"A-77"}]}`)
		default:
			http.NotFound(w, r)
		}
	})

	if err := sess.LoginTwoFA(context.Background(), "1234"); err != nil {
		t.Fatal(err)
	}
	if sess.accountID != "A-77" {
		t.Errorf("accountID = %q, want A-77", sess.accountID)
	}
}
