//go:build integration
// +build integration

package test

import (
	"context"
	"testing"

	"github.com/MrEthical07/cauth"
)

// TestLifecycleAcrossBackends drives every operation through each storage
// adapter and expects identical outcomes.
func TestLifecycleAcrossBackends(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine := newEngine(t, b.open(t), nil)

			sess := register(t, engine, "life@x.com")

			dup, err := engine.Register(ctx, cauth.RegisterInput{Email: "LIFE@x.com", Password: "secret1", Role: "user"})
			if err != nil || dup.Code() != cauth.CodeDuplicateAccount {
				t.Fatalf("duplicate register: code=%s err=%v", dup.Code(), err)
			}

			res, err := engine.Login(ctx, cauth.LoginInput{Email: "life@x.com", Password: "secret1"})
			login := mustSession(t, res, err)
			if login.Account.ID != sess.Account.ID {
				t.Fatalf("login returned another account")
			}

			res, err = engine.RefreshSession(ctx, cauth.RefreshInput{RefreshToken: login.Tokens.RefreshToken})
			rotated := mustSession(t, res, err)

			out, err := engine.Logout(ctx, cauth.LogoutInput{RefreshToken: rotated.Tokens.RefreshToken})
			if err != nil || !out.Success {
				t.Fatalf("logout: %v %v", out.Err(), err)
			}
			again, err := engine.Logout(ctx, cauth.LogoutInput{RefreshToken: rotated.Tokens.RefreshToken})
			if err != nil || again.Code() != cauth.CodeInvalidRefreshToken {
				t.Fatalf("second logout: code=%s err=%v", again.Code(), err)
			}

			// The registration token is untouched by the other session's logout.
			res, err = engine.RefreshSession(ctx, cauth.RefreshInput{RefreshToken: sess.Tokens.RefreshToken})
			mustSession(t, res, err)

			changed, err := engine.ChangePassword(ctx, cauth.ChangePasswordInput{AccountID: sess.Account.ID, OldPassword: "secret1", NewPassword: "secret2"})
			if err != nil || !changed.Success {
				t.Fatalf("change password: %v %v", changed.Err(), err)
			}
			res, err = engine.Login(ctx, cauth.LoginInput{Email: "life@x.com", Password: "secret2"})
			mustSession(t, res, err)

			issued, err := engine.RequestOtp(ctx, cauth.RequestOtpInput{Email: "life@x.com", Purpose: cauth.PurposeLogin})
			if err != nil || !issued.Success {
				t.Fatalf("request otp: %v %v", issued.Err(), err)
			}
			res, err = engine.LoginWithOtp(ctx, cauth.LoginWithOtpInput{Email: "life@x.com", Code: issued.Value.Code})
			mustSession(t, res, err)
			reuse, err := engine.LoginWithOtp(ctx, cauth.LoginWithOtpInput{Email: "life@x.com", Code: issued.Value.Code})
			if err != nil || reuse.Code() != cauth.CodeInvalidOTP {
				t.Fatalf("otp reuse: code=%s err=%v", reuse.Code(), err)
			}
		})
	}
}

func TestPhoneAccountsAcrossBackends(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine := newEngine(t, b.open(t), nil)

			reg, err := engine.Register(ctx, cauth.RegisterInput{PhoneNumber: "+14155550100", Role: "admin"})
			sess := mustSession(t, reg, err)
			if sess.Account.PhoneNumber != "+14155550100" || sess.Account.Email != "" {
				t.Fatalf("unexpected account %+v", sess.Account)
			}

			// No password was set, so password login must fail like a wrong one.
			login, err := engine.Login(ctx, cauth.LoginInput{PhoneNumber: "+14155550100", Password: "anything"})
			if err != nil || login.Code() != cauth.CodeCredentialMismatch {
				t.Fatalf("password login on otp-only account: code=%s err=%v", login.Code(), err)
			}

			id, status := engine.Guard(ctx, sess.Tokens.AccessToken, "admin")
			if status != cauth.GuardAllowed || id.ID != sess.Account.ID {
				t.Fatalf("guard = %v %+v", status, id)
			}
		})
	}
}
