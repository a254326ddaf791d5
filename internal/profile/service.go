// Package profile talks to the profile endpoints of the portal backend:
// reading the customer record and changing email or mobile with an OTP.
package profile

import (
	"context"
	"strings"

	"github.com/brokerdesk/portal/internal/api"
	"github.com/brokerdesk/portal/internal/otp"
)

const (
	detailsPath    = "/profile/api/v1/details"
	updatePathBase = "/profile/api/v1/update/"
)

// Profile is the customer record shown in the portal header.
type Profile struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Mobile     string `json:"mobile"`
	ClientCode string `json:"clientCode"`
}

type sendResult struct {
	TransactionID string `json:"transactionId"`
}

type submitRequest struct {
	TransactionID string `json:"transactionId"`
	OTP           string `json:"otp"`
}

type submitResult struct {
	IsSuccess bool `json:"isSuccess"`
}

// Service issues authenticated profile calls.
type Service struct {
	client *api.Client
}

// NewService returns a Service backed by client.
func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

// Details loads the current profile.
func (s *Service) Details(ctx context.Context) (*Profile, error) {
	resp := api.Get[Profile](ctx, s.client, detailsPath, api.WithAuth())
	if err := resp.AsError(); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SendEmailOTP dispatches a passcode to email and returns the transaction id.
func (s *Service) SendEmailOTP(ctx context.Context, email string) (string, error) {
	return s.send(ctx, "email", map[string]string{"email": strings.TrimSpace(email)})
}

// SubmitEmailOTP confirms the email change.
func (s *Service) SubmitEmailOTP(ctx context.Context, transactionID, code string) (bool, error) {
	return s.submit(ctx, "email", transactionID, code)
}

// SendMobileOTP dispatches a passcode to mobile and returns the transaction id.
func (s *Service) SendMobileOTP(ctx context.Context, mobile string) (string, error) {
	return s.send(ctx, "mobile", map[string]string{"mobileNumber": strings.TrimSpace(mobile)})
}

// SubmitMobileOTP confirms the mobile change.
func (s *Service) SubmitMobileOTP(ctx context.Context, transactionID, code string) (bool, error) {
	return s.submit(ctx, "mobile", transactionID, code)
}

func (s *Service) send(ctx context.Context, channel string, body map[string]string) (string, error) {
	resp := api.Post[sendResult](ctx, s.client, updatePathBase+channel+"/otp", body, api.WithAuth())
	if err := resp.AsError(); err != nil {
		return "", err
	}
	return resp.Data.TransactionID, nil
}

func (s *Service) submit(ctx context.Context, channel, transactionID, code string) (bool, error) {
	body := submitRequest{TransactionID: transactionID, OTP: strings.TrimSpace(code)}
	resp := api.Post[submitResult](ctx, s.client, updatePathBase+channel+"/submit", body, api.WithAuth())
	if err := resp.AsError(); err != nil {
		return false, err
	}
	return resp.Data.IsSuccess, nil
}

// EmailBackend adapts the email endpoints to otp.Backend.
func (s *Service) EmailBackend() otp.Backend {
	return backend{send: s.SendEmailOTP, verify: s.SubmitEmailOTP}
}

// MobileBackend adapts the mobile endpoints to otp.Backend.
func (s *Service) MobileBackend() otp.Backend {
	return backend{send: s.SendMobileOTP, verify: s.SubmitMobileOTP}
}

// Backend returns the otp.Backend for channel.
func (s *Service) Backend(channel otp.Channel) otp.Backend {
	if channel == otp.Mobile {
		return s.MobileBackend()
	}
	return s.EmailBackend()
}

// Current returns the stored value for channel.
func (p *Profile) Current(channel otp.Channel) string {
	if p == nil {
		return ""
	}
	if channel == otp.Mobile {
		return p.Mobile
	}
	return p.Email
}

type backend struct {
	send   func(context.Context, string) (string, error)
	verify func(context.Context, string, string) (bool, error)
}

func (b backend) SendOTP(ctx context.Context, target string) (string, error) {
	return b.send(ctx, target)
}

func (b backend) VerifyOTP(ctx context.Context, transactionID, code string) (bool, error) {
	return b.verify(ctx, transactionID, code)
}
