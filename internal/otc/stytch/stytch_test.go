package stytch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"care-portal/internal/otc"
)

const testProjectID = "project-test-1"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/sessions/jwks/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	})

	mux.HandleFunc("/v1/otps/email/login_or_create", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testProjectID || pass != "secret-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@b.com" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status_code":400,"error_type":"invalid_email"}`))
			return
		}
		_, _ = w.Write([]byte(`{"request_id":"req-1","user_id":"user-1","email_id":"email-1"}`))
	})

	mux.HandleFunc("/v1/otps/sms/login_or_create", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"request_id":"req-2","user_id":"user-1","phone_id":"phone-1"}`))
	})

	mux.HandleFunc("/v1/otps/authenticate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch {
		case body["method_id"] == "email-1" && body["code"] == "123456":
			_, _ = w.Write([]byte(`{"request_id":"req-3","user_id":"user-1"}`))
		case body["method_id"] == "boom":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status_code":500,"error_type":"internal_server_error"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status_code":401,"error_type":"otp_code_not_found"}`))
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Send(t *testing.T) {
	srv := newTestServer(t)
	c, err := New(testProjectID, "secret-1", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	d, err := c.Send(ctx, otc.MethodEmail, "a@b.com")
	if err != nil {
		t.Fatalf("Send email: %v", err)
	}
	if d.MethodID != "email-1" || d.UserID != "user-1" || d.RequestID != "req-1" {
		t.Errorf("email dispatch: %+v", d)
	}

	d, err = c.Send(ctx, otc.MethodSMS, "+15555550100")
	if err != nil {
		t.Fatalf("Send sms: %v", err)
	}
	if d.MethodID != "phone-1" {
		t.Errorf("sms method id: %q", d.MethodID)
	}

	_, err = c.Send(ctx, otc.MethodEmail, "x@y.com")
	if apiErr, ok := AsAPIError(err); !ok || apiErr.ErrorType != "invalid_email" {
		t.Errorf("bad email: got %v", err)
	}
}

func TestClient_Authenticate(t *testing.T) {
	srv := newTestServer(t)
	c, _ := New(testProjectID, "secret-1", srv.URL)
	ctx := context.Background()

	a, err := c.Authenticate(ctx, "email-1", "123456")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if a.UserID != "user-1" {
		t.Errorf("user id: %q", a.UserID)
	}

	if _, err := c.Authenticate(ctx, "email-1", "000000"); !errors.Is(err, otc.ErrCodeRejected) {
		t.Errorf("wrong code: got %v", err)
	}

	_, err = c.Authenticate(ctx, "boom", "123456")
	if err == nil || errors.Is(err, otc.ErrCodeRejected) {
		t.Errorf("server error must not look like a rejected code: %v", err)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New("", "secret", ""); err == nil {
		t.Error("expected error for missing project id")
	}
	if _, err := New(testProjectID, "", ""); err == nil {
		t.Error("expected error for missing secret")
	}
}
