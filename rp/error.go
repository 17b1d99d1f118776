package rp

import "errors"

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrExpiredRequest       = errors.New("request is expired")
	ErrResponseStateInvalid = errors.New("state in response does not match request state")
	ErrMissingIDToken       = errors.New("id_token is missing from token response")
)
