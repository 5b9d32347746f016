package handler

import (
	"context"
	"errors"

	"github.com/provara/provara"
	"github.com/provara/provara/instrumentation"
	"github.com/provara/provara/security"
	"github.com/provara/provara/token"
)

// CoreRevoker revokes one opaque token kind. Revocation cascades over the
// whole grant: once the presented token is resolved to its originating
// request, every access and refresh token minted for that request ID is
// removed.
type CoreRevoker struct {
	Type     provara.TokenType
	Strategy token.CoreStrategy
	Store    provara.TokenRevocationStorage

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

var _ provara.TokenRevoker = (*CoreRevoker)(nil)

// CanRevoke reports whether this delegate covers tt
func (r *CoreRevoker) CanRevoke(tt provara.TokenType) bool {
	return tt == r.Type
}

// RevokeToken resolves the presented token and cascades revocation over its
// grant. An expired token is still revocable; a token owned by a different
// client is a hard client-mismatch failure. A token this delegate cannot
// resolve yields (false, nil) so the chain can try the other kind.
func (r *CoreRevoker) RevokeToken(ctx context.Context, presented, requestingClientID string) (bool, error) {
	var (
		req *provara.Request
		err error
	)

	switch r.Type {
	case provara.TokenTypeAccessToken:
		var signature string
		if signature, err = r.Strategy.AccessTokenSignature(presented); err != nil {
			return false, nil
		}
		req, err = r.Store.GetAccessTokenSession(ctx, signature)
	case provara.TokenTypeRefreshToken:
		var signature string
		if signature, err = r.Strategy.RefreshTokenSignature(presented); err != nil {
			return false, nil
		}
		req, err = r.Store.GetRefreshTokenSession(ctx, signature)
	default:
		return false, nil
	}

	if err != nil {
		// Expired records still identify a grant worth revoking
		if req == nil || !errors.Is(err, provara.ErrExpired) {
			return false, nil
		}
	}

	if req.Client == nil || req.Client.ID != requestingClientID {
		return false, provara.ErrClientMismatch
	}

	if err := r.Store.RevokeAccessToken(ctx, req.ID); err != nil {
		return false, provara.ErrServerError(err.Error())
	}
	if err := r.Store.RevokeRefreshToken(ctx, req.ID); err != nil {
		return false, provara.ErrServerError(err.Error())
	}

	if r.Instrumentation != nil {
		r.Instrumentation.Metrics().Revocations.Add(ctx, 1)
	}
	r.Auditor.LogTokenRevoked(requestingClientID, req.ID)

	return true, nil
}
