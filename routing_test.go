package cauth

import (
	"errors"
	"testing"
)

type stringRoutes struct{}

func (stringRoutes) Register(RouteDeps) string { return "register" }
func (stringRoutes) Login(RouteDeps) string    { return "login" }
func (stringRoutes) Logout(RouteDeps) string   { return "logout" }
func (stringRoutes) Refresh(RouteDeps) string  { return "refresh" }
func (stringRoutes) ChangePassword(_ RouteDeps, id string) string {
	return "change-password:" + id
}
func (stringRoutes) Guard(d GuardDeps) string {
	out := "guard"
	for _, r := range d.Roles {
		out += ":" + r
	}
	return out
}

type otpRoutes struct{ stringRoutes }

func (otpRoutes) RequestOtp(RouteDeps) string   { return "request-otp" }
func (otpRoutes) LoginWithOtp(RouteDeps) string { return "login-otp" }
func (otpRoutes) VerifyOtp(d RouteDeps) string {
	if d.Engine == nil {
		return ""
	}
	return "verify-otp"
}

func TestNewRouterValidates(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	if _, err := NewRouter[string](engine, nil); !errors.Is(err, ErrRouterContract) {
		t.Fatalf("expected ErrRouterContract, got %v", err)
	}
	if _, err := NewRouter[string](nil, stringRoutes{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestRouterDelegates(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	r, err := NewRouter[string](engine, stringRoutes{})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	got := []string{r.Register(), r.Login(), r.Logout(), r.Refresh(), r.ChangePassword("42"), r.Guard("admin", "user"), r.Guard()}
	want := []string{"register", "login", "logout", "refresh", "change-password:42", "guard:admin:user", "guard"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handler %d = %q, want %q", i, got[i], want[i])
		}
	}

	if r.SupportsOtp() {
		t.Fatal("plain contract should not support OTP routes")
	}
	if _, err := r.RequestOtp(); !errors.Is(err, ErrOTPRoutesAbsent) {
		t.Fatalf("expected ErrOTPRoutesAbsent, got %v", err)
	}
}

func TestRouterOtpExtension(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	r, err := NewRouter[string](engine, otpRoutes{})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if !r.SupportsOtp() {
		t.Fatal("expected OTP support")
	}

	for name, build := range map[string]func() (string, error){
		"request-otp": r.RequestOtp,
		"login-otp":   r.LoginWithOtp,
		"verify-otp":  r.VerifyOtp,
	} {
		h, err := build()
		if err != nil || h != name {
			t.Fatalf("%s: got %q, %v", name, h, err)
		}
	}
}
