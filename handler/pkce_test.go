package handler

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/provara/provara"
	"github.com/provara/provara/internal/testutil"
	"github.com/provara/provara/storage/memory"
)

func newPKCEHandler(t *testing.T, store *memory.Store) *PKCEHandler {
	t.Helper()
	return &PKCEHandler{
		CodeStrategy: newStrategy(t),
		Store:        store,
	}
}

// responseWithCode builds an authorize response carrying a freshly minted
// code, as the code handler would have left it.
func responseWithCode(t *testing.T, h *PKCEHandler) (*provara.AuthorizeResponse, string) {
	t.Helper()
	code, _, err := h.CodeStrategy.GenerateAuthorizeCode(context.Background(), nil)
	if err != nil {
		t.Fatalf("minting code: %v", err)
	}
	resp := provara.NewAuthorizeResponse()
	resp.AddQuery(provara.ParamCode, code)
	return resp, code
}

func pkceAuthorizeRequest(client *provara.Client, challenge, method string) *provara.AuthorizeRequest {
	ar := provara.NewAuthorizeRequest()
	ar.Client = client
	ar.Session = &provara.DefaultSession{Subject: "peter"}
	ar.ResponseTypes = provara.Arguments{string(provara.ResponseTypeCode)}
	ar.Form = url.Values{provara.ParamClientID: {client.ID}}
	if challenge != "" {
		ar.Form.Set(provara.ParamCodeChallenge, challenge)
	}
	if method != "" {
		ar.Form.Set(provara.ParamCodeChallengeMethod, method)
	}
	return ar
}

func pkceTokenRequest(client *provara.Client, code, verifier string) *provara.AccessRequest {
	r := provara.NewAccessRequest()
	r.Client = client
	r.GrantTypes = provara.Arguments{string(provara.GrantTypeAuthorizationCode)}
	r.Form = url.Values{}
	if code != "" {
		r.Form.Set(provara.ParamCode, code)
	}
	if verifier != "" {
		r.Form.Set(provara.ParamCodeVerifier, verifier)
	}
	return r
}

func TestPKCEAuthorizeRecordsChallenge(t *testing.T) {
	store := newStore(t)
	h := newPKCEHandler(t, store)
	client := testutil.NewTestClient("app")
	challenge, _ := testutil.GeneratePKCEPair()

	resp, code := responseWithCode(t, h)
	ar := pkceAuthorizeRequest(client, challenge, provara.PKCEMethodS256)

	if err := h.HandleAuthorizeEndpointRequest(context.Background(), ar, resp); err != nil {
		t.Fatalf("HandleAuthorizeEndpointRequest: %v", err)
	}

	sig, _ := h.CodeStrategy.AuthorizeCodeSignature(code)
	stored, err := store.GetPKCERequestSession(context.Background(), sig)
	if err != nil {
		t.Fatalf("loading PKCE session: %v", err)
	}
	if stored.Form.Get(provara.ParamCodeChallenge) != challenge {
		t.Error("the challenge must survive into the stored form")
	}
	if stored.Form.Get(provara.ParamCodeChallengeMethod) != provara.PKCEMethodS256 {
		t.Error("the method must survive into the stored form")
	}
}

func TestPKCEAuthorizeValidation(t *testing.T) {
	client := testutil.NewTestClient("app")
	publicClient := testutil.NewTestClient("spa")
	publicClient.Public = true
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name      string
		handler   PKCEHandler
		client    *provara.Client
		challenge string
		method    string
		wantErr   bool
	}{
		{"S256 accepted", PKCEHandler{}, client, challenge, provara.PKCEMethodS256, false},
		{"plain rejected by default", PKCEHandler{}, client, challenge, provara.PKCEMethodPlain, true},
		{"plain accepted when allowed", PKCEHandler{AllowPlain: true}, client, challenge, provara.PKCEMethodPlain, false},
		{"unknown method", PKCEHandler{}, client, challenge, "S512", true},
		{"method without challenge", PKCEHandler{}, client, "", provara.PKCEMethodS256, true},
		{"no challenge without enforcement", PKCEHandler{}, client, "", "", false},
		{"no challenge with enforcement", PKCEHandler{Enforce: true}, client, "", "", true},
		{"public client enforcement", PKCEHandler{EnforceForPublicClients: true}, publicClient, "", "", true},
		{"confidential client exempt", PKCEHandler{EnforceForPublicClients: true}, client, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			h := tt.handler
			h.CodeStrategy = newStrategy(t)
			h.Store = store

			resp, _ := responseWithCode(t, &h)
			ar := pkceAuthorizeRequest(tt.client, tt.challenge, tt.method)

			err := h.HandleAuthorizeEndpointRequest(context.Background(), ar, resp)
			if tt.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPKCETokenVerifierMatch(t *testing.T) {
	store := newStore(t)
	h := newPKCEHandler(t, store)
	client := testutil.NewTestClient("app")
	ctx := context.Background()
	challenge, verifier := testutil.GeneratePKCEPair()

	resp, code := responseWithCode(t, h)
	ar := pkceAuthorizeRequest(client, challenge, provara.PKCEMethodS256)
	if err := h.HandleAuthorizeEndpointRequest(ctx, ar, resp); err != nil {
		t.Fatalf("recording challenge: %v", err)
	}

	if err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, verifier)); err != nil {
		t.Fatalf("HandleTokenEndpointRequest: %v", err)
	}

	// The session is consumed on success
	sig, _ := h.CodeStrategy.AuthorizeCodeSignature(code)
	if _, err := store.GetPKCERequestSession(ctx, sig); !errors.Is(err, provara.ErrNotFound) {
		t.Errorf("PKCE session after success: error = %v, want not found", err)
	}
}

func TestPKCETokenPlainMethod(t *testing.T) {
	store := newStore(t)
	h := newPKCEHandler(t, store)
	h.AllowPlain = true
	client := testutil.NewTestClient("app")
	ctx := context.Background()
	verifier := strings.Repeat("v", 43)

	resp, code := responseWithCode(t, h)
	ar := pkceAuthorizeRequest(client, verifier, provara.PKCEMethodPlain)
	if err := h.HandleAuthorizeEndpointRequest(ctx, ar, resp); err != nil {
		t.Fatalf("recording challenge: %v", err)
	}

	if err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, verifier)); err != nil {
		t.Errorf("plain verifier must match its own challenge: %v", err)
	}
}

func TestPKCETokenFailures(t *testing.T) {
	client := testutil.NewTestClient("app")
	ctx := context.Background()
	challenge, verifier := testutil.GeneratePKCEPair()

	recordChallenge := func(t *testing.T, h *PKCEHandler) string {
		resp, code := responseWithCode(t, h)
		ar := pkceAuthorizeRequest(client, challenge, provara.PKCEMethodS256)
		if err := h.HandleAuthorizeEndpointRequest(ctx, ar, resp); err != nil {
			t.Fatalf("recording challenge: %v", err)
		}
		return code
	}

	t.Run("wrong verifier", func(t *testing.T) {
		h := newPKCEHandler(t, newStore(t))
		code := recordChallenge(t, h)
		wrong := testutil.GenerateRandomString(50)
		err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, wrong))
		var e *provara.Error
		if !errors.As(err, &e) || e.Code != provara.ErrorCodeInvalidGrant {
			t.Errorf("error = %v, want invalid_grant", err)
		}
	})

	t.Run("challenge recorded but no verifier", func(t *testing.T) {
		h := newPKCEHandler(t, newStore(t))
		code := recordChallenge(t, h)
		if err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, "")); err == nil {
			t.Error("a recorded challenge without a verifier must fail")
		}
	})

	t.Run("verifier without recorded challenge", func(t *testing.T) {
		h := newPKCEHandler(t, newStore(t))
		code, _, _ := h.CodeStrategy.GenerateAuthorizeCode(ctx, nil)
		if err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, verifier)); err == nil {
			t.Error("a verifier without a recorded challenge must fail")
		}
	})

	t.Run("no challenge and no verifier passes without enforcement", func(t *testing.T) {
		h := newPKCEHandler(t, newStore(t))
		code, _, _ := h.CodeStrategy.GenerateAuthorizeCode(ctx, nil)
		if err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, "")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("enforcement without recorded challenge", func(t *testing.T) {
		h := newPKCEHandler(t, newStore(t))
		h.Enforce = true
		code, _, _ := h.CodeStrategy.GenerateAuthorizeCode(ctx, nil)
		if err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, "")); err == nil {
			t.Error("enforcement must fail redemption without a recorded challenge")
		}
	})

	t.Run("short verifier", func(t *testing.T) {
		h := newPKCEHandler(t, newStore(t))
		code := recordChallenge(t, h)
		err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, "tooshort"))
		if err == nil {
			t.Error("a verifier below 43 characters must fail")
		}
	})

	t.Run("verifier with reserved characters", func(t *testing.T) {
		h := newPKCEHandler(t, newStore(t))
		code := recordChallenge(t, h)
		bad := strings.Repeat("a", 42) + "!"
		if err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, code, bad)); err == nil {
			t.Error("a verifier outside the unreserved set must fail")
		}
	})

	t.Run("no code is a no-op", func(t *testing.T) {
		h := newPKCEHandler(t, newStore(t))
		if err := h.HandleTokenEndpointRequest(ctx, pkceTokenRequest(client, "", verifier)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
