package oidc

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/provara/provara"
	"github.com/provara/provara/internal/testutil"
)

const testAudience = "https://auth.example.com"

func requestObjectClient(pub *rsa.PublicKey) *provara.Client {
	c := testutil.NewTestClient("foo")
	c.RequestObjectSigningAlg = "RS256"
	c.JSONWebKeys = testJWKS(pub, "client-key-1")
	return c
}

func signRequestObject(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "client-key-1"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("signing request object: %v", err)
	}
	return signed
}

func baseObjectClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "foo",
		"aud":   testAudience,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"scope": "openid books.read",
		"state": "1234567890",
	}
}

func newRequestObjectHandler() *RequestObjectHandler {
	return &RequestObjectHandler{
		Resolver: NewKeyResolver(KeyResolverConfig{}),
		Audience: testAudience,
	}
}

func TestProcessFormOverlaysClaims(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	client := requestObjectClient(&key.PublicKey)
	h := newRequestObjectHandler()

	signed := signRequestObject(t, key, baseObjectClaims())
	form := url.Values{
		provara.ParamRequest: {signed},
		"scope":              {"stale"},
	}

	if err := h.ProcessForm(context.Background(), client, form); err != nil {
		t.Fatalf("ProcessForm: %v", err)
	}
	if form.Get("scope") != "openid books.read" {
		t.Errorf("scope = %q, the signed object must win over the bare parameter", form.Get("scope"))
	}
	if form.Get("state") != "1234567890" {
		t.Errorf("state = %q", form.Get("state"))
	}
	if form.Get(provara.ParamRequest) != signed {
		t.Error("the request parameter itself must not be overwritten")
	}
}

func TestProcessFormClaimRendering(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	client := requestObjectClient(&key.PublicKey)
	h := newRequestObjectHandler()

	claims := baseObjectClaims()
	claims["scope"] = []any{"openid", "offline"}
	claims["max_age"] = 3600
	claims["prompt_consent"] = true
	signed := signRequestObject(t, key, claims)

	form := url.Values{provara.ParamRequest: {signed}}
	if err := h.ProcessForm(context.Background(), client, form); err != nil {
		t.Fatalf("ProcessForm: %v", err)
	}
	if form.Get("scope") != "openid offline" {
		t.Errorf("scope = %q, want a space-joined list", form.Get("scope"))
	}
	if form.Get("max_age") != "3600" {
		t.Errorf("max_age = %q", form.Get("max_age"))
	}
	if form.Get("prompt_consent") != "true" {
		t.Errorf("prompt_consent = %q", form.Get("prompt_consent"))
	}
}

func TestProcessFormRejections(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	h := newRequestObjectHandler()
	ctx := context.Background()

	tests := []struct {
		name   string
		client *provara.Client
		claims func() jwt.MapClaims
		sign   func(t *testing.T, claims jwt.MapClaims) string
	}{
		{
			name: "no registered algorithm",
			client: func() *provara.Client {
				c := requestObjectClient(&key.PublicKey)
				c.RequestObjectSigningAlg = ""
				return c
			}(),
			claims: baseObjectClaims,
		},
		{
			name:   "wrong issuer",
			client: requestObjectClient(&key.PublicKey),
			claims: func() jwt.MapClaims { c := baseObjectClaims(); c["iss"] = "someone-else"; return c },
		},
		{
			name:   "wrong audience",
			client: requestObjectClient(&key.PublicKey),
			claims: func() jwt.MapClaims { c := baseObjectClaims(); c["aud"] = "https://other.example.com"; return c },
		},
		{
			name:   "expired",
			client: requestObjectClient(&key.PublicKey),
			claims: func() jwt.MapClaims {
				c := baseObjectClaims()
				c["exp"] = time.Now().Add(-time.Hour).Unix()
				return c
			},
		},
		{
			name:   "missing exp",
			client: requestObjectClient(&key.PublicKey),
			claims: func() jwt.MapClaims { c := baseObjectClaims(); delete(c, "exp"); return c },
		},
		{
			name:   "missing iat",
			client: requestObjectClient(&key.PublicKey),
			claims: func() jwt.MapClaims { c := baseObjectClaims(); delete(c, "iat"); return c },
		},
		{
			name:   "unsigned object against RS256 registration",
			client: requestObjectClient(&key.PublicKey),
			claims: baseObjectClaims,
			sign: func(t *testing.T, claims jwt.MapClaims) string {
				t.Helper()
				tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
				signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
				if err != nil {
					t.Fatalf("signing: %v", err)
				}
				return signed
			},
		},
		{
			name:   "signed under a foreign key",
			client: requestObjectClient(&key.PublicKey),
			claims: baseObjectClaims,
			sign: func(t *testing.T, claims jwt.MapClaims) string {
				return signRequestObject(t, testutil.GenerateRSAKey(t), claims)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			signer := tc.sign
			if signer == nil {
				signer = func(t *testing.T, claims jwt.MapClaims) string {
					return signRequestObject(t, key, claims)
				}
			}
			form := url.Values{provara.ParamRequest: {signer(t, tc.claims())}}
			err := h.ProcessForm(ctx, tc.client, form)
			if !errors.Is(err, provara.ErrInvalidRequest("")) {
				t.Errorf("error = %v, want invalid request", err)
			}
		})
	}
}

func TestProcessFormUnsignedAlgorithm(t *testing.T) {
	h := newRequestObjectHandler()

	client := testutil.NewTestClient("foo")
	client.RequestObjectSigningAlg = "none"

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, baseObjectClaims())
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	form := url.Values{provara.ParamRequest: {signed}}
	if err := h.ProcessForm(context.Background(), client, form); err != nil {
		t.Fatalf("ProcessForm: %v", err)
	}
	if form.Get("scope") != "openid books.read" {
		t.Errorf("scope = %q", form.Get("scope"))
	}
}

func TestProcessFormRequestURI(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	client := requestObjectClient(&key.PublicKey)
	h := newRequestObjectHandler()
	ctx := context.Background()

	signed := signRequestObject(t, key, baseObjectClaims())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(signed + "\n"))
	}))
	defer srv.Close()

	t.Run("registered", func(t *testing.T) {
		client.RequestURIs = []string{srv.URL}
		form := url.Values{provara.ParamRequestURI: {srv.URL}}
		if err := h.ProcessForm(ctx, client, form); err != nil {
			t.Fatalf("ProcessForm: %v", err)
		}
		if form.Get("scope") != "openid books.read" {
			t.Errorf("scope = %q", form.Get("scope"))
		}
	})

	t.Run("unregistered", func(t *testing.T) {
		client.RequestURIs = nil
		form := url.Values{provara.ParamRequestURI: {srv.URL}}
		err := h.ProcessForm(ctx, client, form)
		if !errors.Is(err, provara.ErrInvalidRequest("")) {
			t.Errorf("error = %v, want invalid request", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer down.Close()
		client.RequestURIs = []string{down.URL}
		form := url.Values{provara.ParamRequestURI: {down.URL}}
		err := h.ProcessForm(ctx, client, form)
		if !errors.Is(err, provara.ErrServerError("")) {
			t.Errorf("error = %v, want server error", err)
		}
	})
}
