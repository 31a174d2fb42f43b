// Package stytch delivers and checks one-time codes through the hosted
// Stytch consumer API.
package stytch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stytchauth/stytch-go/v16/stytch/consumer/otp"
	"github.com/stytchauth/stytch-go/v16/stytch/consumer/otp/email"
	"github.com/stytchauth/stytch-go/v16/stytch/consumer/otp/sms"
	"github.com/stytchauth/stytch-go/v16/stytch/consumer/stytchapi"
	"github.com/stytchauth/stytch-go/v16/stytch/stytcherror"

	"care-portal/internal/otc"
)

const (
	expirationMinutes = 10
	requestTimeout    = 10 * time.Second
)

// Error types returned by the API for a wrong, spent or expired code.
var rejectedErrorTypes = map[string]bool{
	"otp_code_not_found":      true,
	"unable_to_auth_otp_code": true,
	"otp_code_expired":        true,
}

type Client struct {
	api *stytchapi.API
}

// New builds a client. An empty baseURL lets the SDK pick the test or live
// environment from the project id.
func New(projectID, secret, baseURL string) (*Client, error) {
	if projectID == "" || secret == "" {
		return nil, errors.New("stytch config missing required fields")
	}

	opts := []stytchapi.Option{
		stytchapi.WithHTTPClient(&http.Client{Timeout: requestTimeout}),
	}
	if baseURL != "" {
		opts = append(opts, stytchapi.WithBaseURI(baseURL))
	}

	api, err := stytchapi.NewClient(projectID, secret, opts...)
	if err != nil {
		return nil, fmt.Errorf("stytch: new client: %w", err)
	}
	return &Client{api: api}, nil
}

func (c *Client) Send(ctx context.Context, method otc.Method, destination string) (*otc.Dispatch, error) {
	switch method {
	case otc.MethodEmail:
		resp, err := c.api.OTPs.Email.LoginOrCreate(ctx, &email.LoginOrCreateParams{
			Email:             destination,
			ExpirationMinutes: expirationMinutes,
		})
		if err != nil {
			return nil, fmt.Errorf("stytch: email login_or_create: %w", err)
		}
		return dispatch(resp.EmailID, resp.UserID, resp.RequestID)

	case otc.MethodSMS:
		resp, err := c.api.OTPs.Sms.LoginOrCreate(ctx, &sms.LoginOrCreateParams{
			PhoneNumber:       destination,
			ExpirationMinutes: expirationMinutes,
		})
		if err != nil {
			return nil, fmt.Errorf("stytch: sms login_or_create: %w", err)
		}
		return dispatch(resp.PhoneID, resp.UserID, resp.RequestID)
	}
	return nil, fmt.Errorf("stytch: unsupported method %q", method)
}

func dispatch(methodID, userID, requestID string) (*otc.Dispatch, error) {
	if methodID == "" {
		return nil, errors.New("stytch: response missing method id")
	}
	return &otc.Dispatch{MethodID: methodID, UserID: userID, RequestID: requestID}, nil
}

func (c *Client) Authenticate(ctx context.Context, methodID, code string) (*otc.Authentication, error) {
	resp, err := c.api.OTPs.Authenticate(ctx, &otp.AuthenticateParams{
		MethodID: methodID,
		Code:     code,
	})
	if err != nil {
		if apiErr, ok := AsAPIError(err); ok && rejected(apiErr) {
			return nil, otc.ErrCodeRejected
		}
		return nil, fmt.Errorf("stytch: authenticate: %w", err)
	}
	return &otc.Authentication{UserID: resp.UserID, RequestID: resp.RequestID}, nil
}

// AsAPIError extracts the structured API error from err.
func AsAPIError(err error) (stytcherror.Error, bool) {
	var v stytcherror.Error
	if errors.As(err, &v) {
		return v, true
	}
	var p *stytcherror.Error
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return stytcherror.Error{}, false
}

func rejected(e stytcherror.Error) bool {
	if rejectedErrorTypes[string(e.ErrorType)] {
		return true
	}
	return e.ErrorType == "" && e.StatusCode == http.StatusUnauthorized
}
