// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

package trashmail

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Flow and Client. Match with errors.Is; the
// concrete error may be an *APIError carrying the server's envelope fields.
var (
	// ErrCredentialFormat is returned when a credential fails local
	// validation, e.g. a personal access token without the "tmpat_"
	// prefix. No network request has been made when it is returned.
	ErrCredentialFormat = errors.New("invalid credential format")

	// ErrTransport is returned when an HTTP request could not be
	// completed or came back with a non-2xx status.
	ErrTransport = errors.New("transport failure")

	// ErrServerProtocol is returned when a response arrived but did not
	// contain what the protocol requires (missing session id, missing
	// challenge, undecodable body).
	ErrServerProtocol = errors.New("server protocol violation")

	// ErrAuthRejected is returned when the exchange completed locally but
	// the password did not match. The message is deliberately uniform:
	// the protocol does not reveal whether the account exists or which
	// part of the exchange failed, and neither do we.
	ErrAuthRejected = errors.New("incorrect password")

	// ErrServerRejected is returned when the server refused the finish
	// step of a locally valid exchange, e.g. an expired exchange session.
	ErrServerRejected = errors.New("rejected by server")

	// ErrStateConsumed is returned by an Engine when a login or
	// registration state is used for a second finish call. Exchange state
	// is single use; a new attempt must start from scratch.
	ErrStateConsumed = errors.New("exchange state already consumed")

	// ErrNotAuthenticated is returned by Client methods that require a
	// prior successful login.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTwoFactorRequired is returned by the legacy login when the
	// account has 2FA enabled, which this client does not implement.
	ErrTwoFactorRequired = errors.New("two-factor authentication required")
)

// APIError is an error reported by the TrashMail API. It wraps one of the
// sentinel errors above (retrievable with errors.Is) and carries the
// error_code and msg fields of the response envelope when the server sent
// them.
type APIError struct {
	// Kind is the sentinel this error belongs to, e.g. ErrServerRejected.
	Kind error

	// Code is the server's error_code, or 0 if none was supplied.
	Code int

	// Msg is the server's human readable message, if any.
	Msg string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (error_code %d)", e.Kind.Error(), e.Msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// apiError builds an *APIError from an envelope, defaulting to kind when the
// server supplied no message of its own.
func apiError(kind error, env envelope) error {
	return &APIError{Kind: kind, Code: env.ErrorCode, Msg: env.Msg}
}
