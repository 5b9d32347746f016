package handler

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/provara/provara"
	"github.com/provara/provara/internal/testutil"
	"github.com/provara/provara/storage/memory"
	"github.com/provara/provara/token"
)

func newOIDCHandler(t *testing.T, store *memory.Store) *OpenIDConnectExplicitHandler {
	t.Helper()
	return &OpenIDConnectExplicitHandler{
		CodeStrategy: newStrategy(t),
		IDTokenStrategy: &token.RS256JWTStrategy{
			PrivateKey: testutil.GenerateRSAKey(t),
			KeyID:      "oidc-key-1",
		},
		Store:           store,
		Issuer:          "https://auth.example.com",
		IDTokenLifespan: time.Hour,
	}
}

func oidcAuthorizeRequest(client *provara.Client, nonce string) *provara.AuthorizeRequest {
	ar := provara.NewAuthorizeRequest()
	ar.Client = client
	ar.Session = &provara.DefaultSession{Subject: "peter"}
	ar.ResponseTypes = provara.Arguments{string(provara.ResponseTypeCode)}
	ar.RequestedScopes = provara.Arguments{"openid"}
	ar.GrantScope("openid")
	ar.Form = url.Values{
		provara.ParamClientID: {client.ID},
		provara.ParamNonce:    {nonce},
	}
	return ar
}

func TestOIDCAuthorizeStoresSession(t *testing.T) {
	store := newStore(t)
	h := newOIDCHandler(t, store)
	client := testutil.NewTestClient("foo")
	ctx := context.Background()

	code, _, err := h.CodeStrategy.GenerateAuthorizeCode(ctx, nil)
	if err != nil {
		t.Fatalf("minting code: %v", err)
	}
	resp := provara.NewAuthorizeResponse()
	resp.AddQuery(provara.ParamCode, code)

	ar := oidcAuthorizeRequest(client, "n-0S6_WzA2Mj")
	if err := h.HandleAuthorizeEndpointRequest(ctx, ar, resp); err != nil {
		t.Fatalf("HandleAuthorizeEndpointRequest: %v", err)
	}

	sig, _ := h.CodeStrategy.AuthorizeCodeSignature(code)
	stored, err := store.GetOpenIDConnectSession(ctx, sig)
	if err != nil {
		t.Fatalf("loading session: %v", err)
	}
	if stored.Form.Get(provara.ParamNonce) != "n-0S6_WzA2Mj" {
		t.Error("the nonce must survive into the stored session")
	}
}

func TestOIDCAuthorizeSkipsWithoutOpenIDScope(t *testing.T) {
	store := newStore(t)
	h := newOIDCHandler(t, store)
	client := testutil.NewTestClient("foo")

	ar := oidcAuthorizeRequest(client, "")
	ar.GrantedScopes = provara.Arguments{"books.read"}

	// No code in the response either; skipping must win over erroring
	if err := h.HandleAuthorizeEndpointRequest(context.Background(), ar, provara.NewAuthorizeResponse()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOIDCAuthorizeRequiresIssuedCode(t *testing.T) {
	h := newOIDCHandler(t, newStore(t))
	client := testutil.NewTestClient("foo")

	ar := oidcAuthorizeRequest(client, "")
	err := h.HandleAuthorizeEndpointRequest(context.Background(), ar, provara.NewAuthorizeResponse())
	var e *provara.Error
	if !errors.As(err, &e) || e.Code != provara.ErrorCodeServerError {
		t.Errorf("error = %v, want server_error when no code was issued first", err)
	}
}

func TestOIDCPopulateMintsIDToken(t *testing.T) {
	store := newStore(t)
	h := newOIDCHandler(t, store)
	client := testutil.NewTestClient("foo")
	ctx := context.Background()

	code, _, err := h.CodeStrategy.GenerateAuthorizeCode(ctx, nil)
	if err != nil {
		t.Fatalf("minting code: %v", err)
	}
	resp := provara.NewAuthorizeResponse()
	resp.AddQuery(provara.ParamCode, code)
	ar := oidcAuthorizeRequest(client, "n-0S6_WzA2Mj")
	if err := h.HandleAuthorizeEndpointRequest(ctx, ar, resp); err != nil {
		t.Fatalf("storing session: %v", err)
	}

	r := provara.NewAccessRequest()
	r.Client = client
	r.GrantTypes = provara.Arguments{string(provara.GrantTypeAuthorizationCode)}
	r.Session = &provara.DefaultSession{Subject: "peter"}
	r.GrantScope("openid")
	r.Form = url.Values{provara.ParamCode: {code}}

	if !h.CanHandleTokenEndpointRequest(r) {
		t.Fatal("the handler must support the authorization_code grant")
	}
	if err := h.HandleTokenEndpointRequest(ctx, r); err != nil {
		t.Fatalf("HandleTokenEndpointRequest: %v", err)
	}

	accessResp := provara.NewAccessResponse()
	if err := h.PopulateTokenEndpointResponse(ctx, r, accessResp); err != nil {
		t.Fatalf("PopulateTokenEndpointResponse: %v", err)
	}

	idToken, _ := accessResp.GetExtra("id_token").(string)
	if idToken == "" {
		t.Fatal("no id_token was minted")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		t.Fatalf("parsing id_token: %v", err)
	}
	if claims["iss"] != "https://auth.example.com" {
		t.Errorf("iss = %v", claims["iss"])
	}
	if claims["sub"] != "peter" {
		t.Errorf("sub = %v", claims["sub"])
	}
	if claims["aud"] != "foo" {
		t.Errorf("aud = %v", claims["aud"])
	}
	if claims["nonce"] != "n-0S6_WzA2Mj" {
		t.Errorf("nonce = %v", claims["nonce"])
	}

	// The session is consumed; a second mint attempt fails
	err = h.PopulateTokenEndpointResponse(ctx, r, provara.NewAccessResponse())
	var e *provara.Error
	if !errors.As(err, &e) || e.Code != provara.ErrorCodeServerError {
		t.Errorf("second mint: error = %v, want server_error", err)
	}
}

func TestOIDCPopulateSkipsWithoutOpenIDScope(t *testing.T) {
	h := newOIDCHandler(t, newStore(t))
	client := testutil.NewTestClient("foo")

	r := provara.NewAccessRequest()
	r.Client = client
	r.GrantTypes = provara.Arguments{string(provara.GrantTypeAuthorizationCode)}
	r.Session = &provara.DefaultSession{}
	r.GrantScope("books.read")
	r.Form = url.Values{}

	resp := provara.NewAccessResponse()
	if err := h.PopulateTokenEndpointResponse(context.Background(), r, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetExtra("id_token") != nil {
		t.Error("no id_token may be minted without the openid scope")
	}
}

func TestOIDCPopulateJWTSessionClaimsOverlay(t *testing.T) {
	store := newStore(t)
	h := newOIDCHandler(t, store)
	client := testutil.NewTestClient("foo")
	ctx := context.Background()

	code, _, err := h.CodeStrategy.GenerateAuthorizeCode(ctx, nil)
	if err != nil {
		t.Fatalf("minting code: %v", err)
	}
	resp := provara.NewAuthorizeResponse()
	resp.AddQuery(provara.ParamCode, code)
	if err := h.HandleAuthorizeEndpointRequest(ctx, oidcAuthorizeRequest(client, ""), resp); err != nil {
		t.Fatalf("storing session: %v", err)
	}

	r := provara.NewAccessRequest()
	r.Client = client
	r.GrantTypes = provara.Arguments{string(provara.GrantTypeAuthorizationCode)}
	r.Session = &token.JWTSession{
		DefaultSession: provara.DefaultSession{Subject: "peter"},
		Claims:         jwt.MapClaims{"email": "peter@example.com"},
	}
	r.GrantScope("openid")
	r.Form = url.Values{provara.ParamCode: {code}}

	accessResp := provara.NewAccessResponse()
	if err := h.PopulateTokenEndpointResponse(ctx, r, accessResp); err != nil {
		t.Fatalf("PopulateTokenEndpointResponse: %v", err)
	}

	claims := jwt.MapClaims{}
	idToken := accessResp.GetExtra("id_token").(string)
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		t.Fatalf("parsing id_token: %v", err)
	}
	if claims["email"] != "peter@example.com" {
		t.Errorf("session claim lost: email = %v", claims["email"])
	}
	if claims["iss"] != "https://auth.example.com" {
		t.Error("reserved claims must win over session claims")
	}
}
