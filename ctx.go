package identity

import (
	"context"

	"github.com/google/uuid"
)

var accountCtxKey = &contextKey{"account"}
var claimsCtxKey = &contextKey{"claims"}
var callerCtxKey = &contextKey{"caller"}

type contextKey struct {
	name string
}

// Caller is the opaque, verified context the gate forwards downstream.
// Handlers never see the raw token, only the resolved identity pair.
type Caller struct {
	AccountID uuid.UUID
	Role      Role
}

// WithContext sets the Account in the given context
func WithContext(r context.Context, account *Account) context.Context {
	return context.WithValue(r, accountCtxKey, account)
}

// FromContext finds the account from the context.
func FromContext(ctx context.Context) (*Account, bool) {
	raw, ok := ctx.Value(accountCtxKey).(*Account)
	return raw, ok
}

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(r context.Context, claims AuthClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return raw, ok
}

// WithCaller sets the verified caller in the given context
func WithCaller(r context.Context, caller Caller) context.Context {
	return context.WithValue(r, callerCtxKey, caller)
}

// CallerFromContext extracts the verified caller from the context
func CallerFromContext(ctx context.Context) (Caller, bool) {
	raw, ok := ctx.Value(callerCtxKey).(Caller)
	return raw, ok
}

// CallerFromClaims builds the verified caller pair out of validated claims
func CallerFromClaims(claims AuthClaims) (Caller, error) {
	if claims == nil {
		return Caller{}, ErrUnableToMapClaims
	}

	id, err := uuid.Parse(claims.AccountID())
	if err != nil {
		return Caller{}, ErrUnableToMapClaims
	}

	return Caller{
		AccountID: id,
		Role:      Role(claims.Role()),
	}, nil
}
