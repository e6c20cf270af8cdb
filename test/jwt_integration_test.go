//go:build integration
// +build integration

package test

import (
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/cauth/jwt"
)

func newCodec(t *testing.T) (*jwt.Codec, jwt.Config) {
	t.Helper()
	cfg := jwt.Config{
		AccessSecret:  []byte("integration-access-secret-0123456789"),
		RefreshSecret: []byte("integration-refresh-secret-012345678"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "cauth",
	}
	c, err := jwt.NewCodec(cfg)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return c, cfg
}

func TestJWTIntegrationHardeningChecks(t *testing.T) {
	codec, cfg := newCodec(t)

	token, err := codec.SignAccess("acct-1", "user")
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}

	parsed, err := gjwt.ParseWithClaims(token, &jwt.Claims{}, func(tok *gjwt.Token) (interface{}, error) {
		return cfg.AccessSecret, nil
	}, gjwt.WithValidMethods([]string{"HS256"}), gjwt.WithIssuer("cauth"))
	if err != nil {
		t.Fatalf("third-party parse failed: %v", err)
	}
	claims := parsed.Claims.(*jwt.Claims)
	if claims.ID != "acct-1" || claims.Role != "user" || claims.RegisteredClaims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if codec.VerifyAccess(none) != nil {
		t.Fatal("alg=none token must be rejected")
	}

	hs512, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(cfg.AccessSecret)
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	if codec.VerifyAccess(hs512) != nil {
		t.Fatal("unexpected algorithm must be rejected")
	}

	forged, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("some-other-secret-of-sufficient-len"))
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	if codec.VerifyAccess(forged) != nil {
		t.Fatal("token signed with another secret must be rejected")
	}

	if codec.VerifyRefresh(token) != nil {
		t.Fatal("access token must not verify as refresh token")
	}
}
