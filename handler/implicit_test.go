package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/provara/provara"
	"github.com/provara/provara/internal/testutil"
	"github.com/provara/provara/storage/memory"
)

func newImplicitHandler(t *testing.T, store *memory.Store) *ImplicitHandler {
	t.Helper()
	return &ImplicitHandler{
		AccessTokenStrategy: newStrategy(t),
		Store:               store,
		ScopeStrategy:       provara.HierarchicScopeStrategy,
		AccessTokenLifespan: time.Hour,
	}
}

func TestImplicitGrant(t *testing.T) {
	store := newStore(t)
	h := newImplicitHandler(t, store)
	client := testutil.NewTestClient("spa")
	ctx := context.Background()

	ar := newAuthorizeRequest(client, "books.read")
	ar.ResponseTypes = provara.Arguments{string(provara.ResponseTypeToken)}

	resp := provara.NewAuthorizeResponse()
	if err := h.HandleAuthorizeEndpointRequest(ctx, ar, resp); err != nil {
		t.Fatalf("HandleAuthorizeEndpointRequest: %v", err)
	}

	fragment := resp.Fragment()
	accessToken := fragment.Get(provara.ParamAccessToken)
	if accessToken == "" {
		t.Fatal("the fragment must carry the access token")
	}
	if fragment.Get(provara.ParamTokenType) != provara.BearerTokenType {
		t.Errorf("token_type = %q", fragment.Get(provara.ParamTokenType))
	}
	if fragment.Get(provara.ParamExpiresIn) != "3600" {
		t.Errorf("expires_in = %q", fragment.Get(provara.ParamExpiresIn))
	}
	if fragment.Get(provara.ParamState) != "1234567890" {
		t.Errorf("state = %q", fragment.Get(provara.ParamState))
	}
	if resp.Query().Get(provara.ParamAccessToken) != "" {
		t.Error("the access token must never appear in the query")
	}
	if !ar.IsResponseTypeHandled(provara.ResponseTypeToken) {
		t.Error("the token response type must be marked handled")
	}

	sig, err := h.AccessTokenStrategy.AccessTokenSignature(accessToken)
	if err != nil {
		t.Fatalf("deriving signature: %v", err)
	}
	if _, err := store.GetAccessTokenSession(ctx, sig); err != nil {
		t.Errorf("the access token session must be stored: %v", err)
	}
}

func TestImplicitSkipsCodeOnlyRequests(t *testing.T) {
	h := newImplicitHandler(t, newStore(t))
	client := testutil.NewTestClient("spa")
	ar := newAuthorizeRequest(client)

	resp := provara.NewAuthorizeResponse()
	if err := h.HandleAuthorizeEndpointRequest(context.Background(), ar, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Fragment()) != 0 {
		t.Error("a code-only request must leave the fragment empty")
	}
}

func TestImplicitRequiresGrantTypeRegistration(t *testing.T) {
	h := newImplicitHandler(t, newStore(t))
	client := testutil.NewTestClient("spa")
	client.GrantTypes = provara.Arguments{string(provara.GrantTypeAuthorizationCode)}

	ar := newAuthorizeRequest(client)
	ar.ResponseTypes = provara.Arguments{string(provara.ResponseTypeToken)}

	err := h.HandleAuthorizeEndpointRequest(context.Background(), ar, provara.NewAuthorizeResponse())
	var e *provara.Error
	if !errors.As(err, &e) || e.Code != provara.ErrorCodeUnauthorizedClient {
		t.Errorf("error = %v, want unauthorized_client", err)
	}
}

func TestImplicitRejectsInsecureRedirect(t *testing.T) {
	h := newImplicitHandler(t, newStore(t))
	client := testutil.NewTestClient("spa")

	ar := newAuthorizeRequest(client)
	ar.ResponseTypes = provara.Arguments{string(provara.ResponseTypeToken)}
	ar.RedirectURI = "http://spa.example.com/cb"

	err := h.HandleAuthorizeEndpointRequest(context.Background(), ar, provara.NewAuthorizeResponse())
	if !errors.Is(err, provara.ErrRedirectInsecure("")) {
		t.Errorf("error = %v, want insecure redirect", err)
	}
}
