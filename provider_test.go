package provara

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
)

type fakeRegistry struct {
	clients map[string]*Client
}

func (r *fakeRegistry) GetClient(_ context.Context, id string) (*Client, error) {
	if c, ok := r.clients[id]; ok {
		return c, nil
	}
	return nil, ErrNotFound
}

func (r *fakeRegistry) ValidateClientSecret(_ context.Context, _ string, _ []byte) error {
	return nil
}

type formReader struct {
	form url.Values
}

func (r *formReader) Form() url.Values     { return r.form }
func (r *formReader) Header(string) string { return "" }

type recordingWriter struct {
	status   int
	location string
	body     map[string]any
}

func (w *recordingWriter) WriteRedirect(status int, location string, _ http.Header) {
	w.status = status
	w.location = location
}

func (w *recordingWriter) WriteJSON(status int, _ http.Header, body map[string]any) {
	w.status = status
	w.body = body
}

// codeOnlyDelegate satisfies only the code response type
type codeOnlyDelegate struct{}

func (codeOnlyDelegate) HandleAuthorizeEndpointRequest(_ context.Context, ar *AuthorizeRequest, resp *AuthorizeResponse) error {
	if !ar.ResponseTypes.Has("code") {
		return nil
	}
	resp.AddQuery(ParamCode, "tok.sig")
	resp.AddQuery(ParamState, ar.State)
	ar.SetResponseTypeHandled(ResponseTypeCode)
	return nil
}

func newTestProvider(t *testing.T, clients map[string]*Client) *Provider {
	t.Helper()
	p, err := New(&fakeRegistry{clients: clients}, &Config{
		Issuer:       "https://auth.example.com",
		GlobalSecret: []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func registeredClient() *Client {
	return &Client{
		ID:            "foo",
		RedirectURIs:  []string{"https://app.example.com/cb"},
		ResponseTypes: Arguments{"code", "token"},
		GrantTypes:    Arguments{"authorization_code"},
		Scopes:        Arguments{"openid"},
	}
}

func authorizeForm(overrides url.Values) url.Values {
	form := url.Values{
		ParamClientID:     {"foo"},
		ParamResponseType: {"code"},
		ParamRedirectURI:  {"https://app.example.com/cb"},
		ParamState:        {"1234567890"},
	}
	for k, v := range overrides {
		form[k] = v
	}
	return form
}

func TestNewAuthorizeRequest(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})

	ar, err := p.NewAuthorizeRequest(context.Background(), &formReader{form: authorizeForm(nil)})
	if err != nil {
		t.Fatalf("NewAuthorizeRequest: %v", err)
	}
	if ar.Client.ID != "foo" {
		t.Errorf("client = %q, want foo", ar.Client.ID)
	}
	if !ar.ResponseTypes.ExactOne("code") {
		t.Errorf("response types = %v", ar.ResponseTypes)
	}
	if ar.RedirectURI != "https://app.example.com/cb" {
		t.Errorf("redirect URI = %q", ar.RedirectURI)
	}
	if ar.State != "1234567890" {
		t.Errorf("state = %q", ar.State)
	}
}

func TestNewAuthorizeRequestFailures(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})

	tests := []struct {
		name     string
		mutate   func(url.Values)
		wantKind ErrorKind
	}{
		{
			name:     "missing client_id",
			mutate:   func(f url.Values) { f.Del(ParamClientID) },
			wantKind: KindMissingParameter,
		},
		{
			name:     "unknown client",
			mutate:   func(f url.Values) { f.Set(ParamClientID, "nobody") },
			wantKind: KindInvalidParameter,
		},
		{
			name:     "missing response_type",
			mutate:   func(f url.Values) { f.Del(ParamResponseType) },
			wantKind: KindMissingParameter,
		},
		{
			name:     "unknown response_type",
			mutate:   func(f url.Values) { f.Set(ParamResponseType, "hybrid") },
			wantKind: KindInvalidParameter,
		},
		{
			name:     "unregistered response_type",
			mutate:   func(f url.Values) { f.Set(ParamResponseType, "id_token") },
			wantKind: KindUnsupported,
		},
		{
			name:     "unregistered redirect URI",
			mutate:   func(f url.Values) { f.Set(ParamRedirectURI, "https://evil.example.com/cb") },
			wantKind: KindRedirectUnmatched,
		},
		{
			name:     "missing state",
			mutate:   func(f url.Values) { f.Del(ParamState) },
			wantKind: KindMissingParameter,
		},
		{
			name:     "short state",
			mutate:   func(f url.Values) { f.Set(ParamState, "abc") },
			wantKind: KindInvalidParameter,
		},
		{
			name: "request and request_uri together",
			mutate: func(f url.Values) {
				f.Set(ParamRequest, "x")
				f.Set(ParamRequestURI, "https://app.example.com/req")
			},
			wantKind: KindInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := authorizeForm(nil)
			tt.mutate(form)
			_, err := p.NewAuthorizeRequest(context.Background(), &formReader{form: form})
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("expected a typed error, got %v", err)
			}
			if e.Kind != tt.wantKind {
				t.Errorf("error kind = %v, want %v (err: %v)", e.Kind, tt.wantKind, err)
			}
		})
	}
}

func TestNewAuthorizeResponseFailsClosedOnUnhandledType(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})
	p.AuthorizeHandlers = []AuthorizeEndpointHandler{codeOnlyDelegate{}}

	form := authorizeForm(url.Values{ParamResponseType: {"code token"}})
	ar, err := p.NewAuthorizeRequest(context.Background(), &formReader{form: form})
	if err != nil {
		t.Fatalf("NewAuthorizeRequest: %v", err)
	}

	_, err = p.NewAuthorizeResponse(context.Background(), ar, &DefaultSession{Subject: "peter"})
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected a typed error, got %v", err)
	}
	if e.Kind != KindUnsupported || e.Code != ErrorCodeUnsupportedResponseType {
		t.Errorf("error = %v, want unsupported_response_type", err)
	}
	if ar.IsResponseTypeHandled(ResponseTypeToken) {
		t.Error("token must remain unhandled")
	}
}

func TestNewAuthorizeResponseRequiresSession(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})
	ar := NewAuthorizeRequest()
	if _, err := p.NewAuthorizeResponse(context.Background(), ar, nil); err == nil {
		t.Fatal("expected an error without a session")
	}
}

func TestNewAccessRequestUnsupportedGrant(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})

	form := url.Values{
		ParamGrantType: {"authorization_code"},
		ParamClientID:  {"foo"},
	}
	_, err := p.NewAccessRequest(context.Background(), &formReader{form: form}, nil)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected a typed error, got %v", err)
	}
	if e.Code != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %v, want unsupported_grant_type", err)
	}
}

func TestNewAccessRequestRejectsUnregisteredGrant(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})

	form := url.Values{
		ParamGrantType: {"client_credentials"},
		ParamClientID:  {"foo"},
	}
	_, err := p.NewAccessRequest(context.Background(), &formReader{form: form}, nil)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected a typed error, got %v", err)
	}
	if e.Code != ErrorCodeUnauthorizedClient {
		t.Errorf("error = %v, want unauthorized_client", err)
	}
}

type stubIntrospector struct {
	tt     TokenType
	req    *Request
	err    error
	called *int
}

func (s *stubIntrospector) CanIntrospect(tt TokenType) bool { return tt == s.tt }

func (s *stubIntrospector) IntrospectToken(context.Context, string) (*Request, TokenType, error) {
	if s.called != nil {
		*s.called++
	}
	return s.req, s.tt, s.err
}

func TestIntrospectTokenHintOrdering(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})

	refreshCalls := 0
	req := NewRequest()
	p.Introspectors = []TokenIntrospector{
		&stubIntrospector{tt: TokenTypeAccessToken, err: ErrNotFound},
		&stubIntrospector{tt: TokenTypeRefreshToken, req: req, called: &refreshCalls},
	}

	resp, err := p.IntrospectToken(context.Background(), "tok.sig", TokenTypeRefreshToken)
	if err != nil {
		t.Fatalf("IntrospectToken: %v", err)
	}
	if !resp.Active {
		t.Fatal("expected an active result")
	}
	if resp.TokenType != TokenTypeRefreshToken {
		t.Errorf("token type = %v", resp.TokenType)
	}
	if refreshCalls != 1 {
		t.Errorf("hinted delegate calls = %d, want 1", refreshCalls)
	}
}

func TestIntrospectTokenCollapsesToInactive(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})
	p.Introspectors = []TokenIntrospector{
		&stubIntrospector{tt: TokenTypeAccessToken, err: ErrExpired},
		&stubIntrospector{tt: TokenTypeRefreshToken, err: ErrNotFound},
	}

	resp, err := p.IntrospectToken(context.Background(), "tok.sig", TokenTypeAccessToken)
	if err != nil {
		t.Fatalf("IntrospectToken: %v", err)
	}
	if resp.Active {
		t.Fatal("expected an inactive result")
	}
	if resp.TokenType != TokenTypeAccessToken {
		t.Errorf("inactive result must carry the hinted type, got %v", resp.TokenType)
	}
	if !errors.Is(resp.Reason, ErrExpired) {
		t.Errorf("reason = %v, want the first invalidity error", resp.Reason)
	}
}

func TestIntrospectTokenPropagatesInfrastructureErrors(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})
	p.Introspectors = []TokenIntrospector{
		&stubIntrospector{tt: TokenTypeAccessToken, err: ErrServerError("storage down")},
	}

	if _, err := p.IntrospectToken(context.Background(), "tok.sig", TokenTypeAccessToken); err == nil {
		t.Fatal("infrastructure failures must propagate, not collapse to inactive")
	}
}

type stubRevoker struct {
	tt      TokenType
	revoked bool
	err     error
	called  *int
}

func (s *stubRevoker) CanRevoke(tt TokenType) bool { return tt == s.tt }

func (s *stubRevoker) RevokeToken(context.Context, string, string) (bool, error) {
	if s.called != nil {
		*s.called++
	}
	return s.revoked, s.err
}

func TestRevokeTokenClientMismatchAbortsHard(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})

	secondCalls := 0
	p.Revokers = []TokenRevoker{
		&stubRevoker{tt: TokenTypeAccessToken, err: ErrClientMismatch},
		&stubRevoker{tt: TokenTypeRefreshToken, called: &secondCalls},
	}

	err := p.RevokeToken(context.Background(), "tok.sig", TokenTypeAccessToken, "foo")
	if !errors.Is(err, ErrClientMismatch) {
		t.Fatalf("error = %v, want client mismatch", err)
	}
	if secondCalls != 0 {
		t.Error("a client mismatch must abort the chain before later delegates run")
	}
}

func TestRevokeTokenUnknownTokenIsInert(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})
	p.Revokers = []TokenRevoker{
		&stubRevoker{tt: TokenTypeAccessToken},
		&stubRevoker{tt: TokenTypeRefreshToken},
	}

	if err := p.RevokeToken(context.Background(), "tok.sig", TokenTypeAccessToken, "foo"); err != nil {
		t.Fatalf("revoking an unknown token must be inert, got %v", err)
	}
}

func TestWriteAuthorizeErrorRedirectsWhenURIValid(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})

	ar := NewAuthorizeRequest()
	ar.Client = registeredClient()
	ar.RedirectURI = "https://app.example.com/cb"
	ar.State = "1234567890"

	w := &recordingWriter{}
	p.WriteAuthorizeError(w, ar, ErrInvalidScope("books.write"))

	if w.status != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.status)
	}
	u, err := url.Parse(w.location)
	if err != nil {
		t.Fatalf("parsing location: %v", err)
	}
	if u.Query().Get("error") != ErrorCodeInvalidScope {
		t.Errorf("error param = %q", u.Query().Get("error"))
	}
	if u.Query().Get("state") != "1234567890" {
		t.Errorf("state param = %q", u.Query().Get("state"))
	}
}

func TestWriteAuthorizeErrorFallsBackToJSON(t *testing.T) {
	p := newTestProvider(t, map[string]*Client{"foo": registeredClient()})

	w := &recordingWriter{}
	p.WriteAuthorizeError(w, nil, ErrInvalidClient("unknown client"))

	if w.location != "" {
		t.Error("without a validated redirect URI no redirect may happen")
	}
	if w.body["error"] != ErrorCodeInvalidClient {
		t.Errorf("JSON error = %v", w.body["error"])
	}
}
