// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

package trashmail

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/trashmail/trashmail-go/internal/pkg/blob"
)

// PATPrefix marks a personal access token. Any secret with this prefix is
// treated as a PAT and authenticated on the PAT endpoint pair.
const PATPrefix = "tmpat_"

// IsPATToken reports whether secret looks like a personal access token.
func IsPATToken(secret string) bool {
	return strings.HasPrefix(secret, PATPrefix) && len(secret) > len(PATPrefix)
}

// AuthResult is the terminal outcome of one successful login attempt.
type AuthResult struct {
	// SessionID identifies the authenticated session on the server.
	SessionID string

	// SessionKey is the shared secret derived by the exchange. The server
	// holds the same bytes; it is never transmitted.
	SessionKey []byte

	// PAT is a personal access token minted by the server during the
	// finish step, when it chose to issue one. Often empty.
	PAT string
}

// AuthMethods reports which authentication mechanisms the server offers for
// an account. It is a plain capability query with no cryptographic step.
type AuthMethods struct {
	OpaqueEnabled      bool
	SRPEnabled         bool
	MigrationAvailable bool
}

// Flow sequences one authentication or registration exchange. It holds no
// per-attempt state: every call owns its exchange state and session id for
// the duration of that call and discards both on return, so a single Flow may
// be used from any number of goroutines.
//
// A login is strictly linear. The engine's start step runs locally, the blob
// goes to the init endpoint, the server's challenge feeds the engine's finish
// step, and the result goes to the finish endpoint. Any failure is terminal
// for the attempt; there are no retries and a failed attempt cannot be
// resumed.
type Flow struct {
	engine Engine
	doer   Doer
	log    *zap.Logger
}

// NewFlow returns a Flow using the given transport and engine. A nil doer
// selects a production Transport against DefaultBaseURL, a nil engine selects
// the production OpaqueEngine, and a nil logger disables logging.
func NewFlow(doer Doer, engine Engine, log *zap.Logger) *Flow {
	if doer == nil {
		doer = NewTransport("", "")
	}
	if engine == nil {
		engine = &OpaqueEngine{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Flow{engine: engine, doer: doer, log: log}
}

// Login authenticates username with a password and returns the session key
// derived by the exchange.
//
// A wrong password surfaces as ErrAuthRejected with a uniform message; the
// protocol reveals nothing else, by construction, and this client preserves
// that.
func (f *Flow) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: empty username or password", ErrCredentialFormat)
	}
	return f.runLogin(ctx, cmdLoginInit, cmdLoginFinish, username, password, "")
}

// LoginToken authenticates username with a personal access token. The token
// runs through the same exchange as a password, only the endpoint pair and
// the format precondition differ: a secret without the PAT prefix is rejected
// locally, before any network traffic.
func (f *Flow) LoginToken(ctx context.Context, username, token string) (*AuthResult, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrCredentialFormat)
	}
	if !IsPATToken(token) {
		return nil, fmt.Errorf("%w: personal access tokens start with %q", ErrCredentialFormat, PATPrefix)
	}
	return f.runLogin(ctx, cmdPATLoginInit, cmdPATLoginFinish, username, token, redactToken(token))
}

// runLogin is the two-round exchange shared by the password and PAT flows.
func (f *Flow) runLogin(ctx context.Context, initCmd, finishCmd, username, secret, tokenPrefix string) (*AuthResult, error) {
	state, start, err := f.engine.StartLogin(username, secret)
	if err != nil {
		return nil, err
	}

	f.log.Debug("login exchange started", zap.String("cmd", initCmd), zap.String("username", username))
	var initResp initResponse
	initReq := initRequest{
		Username:     username,
		TokenPrefix:  tokenPrefix,
		StartRequest: blob.Encode(start),
	}
	if err := f.doer.Post(ctx, initCmd, initReq, &initResp); err != nil {
		return nil, err
	}
	if !initResp.Success {
		return nil, apiError(ErrServerRejected, initResp.envelope)
	}
	if initResp.SessionID == "" || initResp.LoginResponse == "" {
		return nil, apiError(ErrServerProtocol, initResp.envelope)
	}
	challenge, err := blob.Decode(initResp.LoginResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: bad challenge encoding: %s", ErrServerProtocol, err)
	}

	finish, sessionKey, err := f.engine.FinishLogin(state, challenge)
	if err != nil {
		return nil, err
	}

	var finResp finishResponse
	finReq := finishRequest{
		SessionID:     initResp.SessionID,
		FinishRequest: blob.Encode(finish),
	}
	if err := f.doer.Post(ctx, finishCmd, finReq, &finResp); err != nil {
		return nil, err
	}
	if !finResp.Success {
		return nil, apiError(ErrServerRejected, finResp.envelope)
	}

	sessionID := finResp.Data.SessionID
	if sessionID == "" {
		sessionID = finResp.SessionID
	}
	if sessionID == "" {
		sessionID = initResp.SessionID
	}
	f.log.Debug("login exchange finished", zap.String("cmd", finishCmd), zap.String("username", username))
	return &AuthResult{
		SessionID:  sessionID,
		SessionKey: sessionKey,
		PAT:        finResp.Data.PAT,
	}, nil
}

// Register creates an OPAQUE record for a new credential. The flow mirrors a
// login, two round trips over the registration endpoint pair, but derives no
// session key: success only means the server stored the record.
func (f *Flow) Register(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: empty username or password", ErrCredentialFormat)
	}

	state, start, err := f.engine.StartRegistration(username, password)
	if err != nil {
		return err
	}

	f.log.Debug("registration started", zap.String("username", username))
	var initResp registerInitResponse
	initReq := registerInitRequest{
		Username:            username,
		RegistrationRequest: blob.Encode(start),
	}
	if err := f.doer.Post(ctx, cmdRegisterInit, initReq, &initResp); err != nil {
		return err
	}
	if !initResp.Success {
		return apiError(ErrServerRejected, initResp.envelope)
	}
	if initResp.SessionID == "" || initResp.RegistrationResponse == "" {
		return apiError(ErrServerProtocol, initResp.envelope)
	}
	challenge, err := blob.Decode(initResp.RegistrationResponse)
	if err != nil {
		return fmt.Errorf("%w: bad registration challenge encoding: %s", ErrServerProtocol, err)
	}

	record, err := f.engine.FinishRegistration(state, challenge)
	if err != nil {
		return err
	}

	var finResp finishResponse
	finReq := registerFinishRequest{
		SessionID:          initResp.SessionID,
		RegistrationRecord: blob.Encode(record),
	}
	if err := f.doer.Post(ctx, cmdRegisterFinish, finReq, &finResp); err != nil {
		return err
	}
	if !finResp.Success {
		return apiError(ErrServerRejected, finResp.envelope)
	}
	f.log.Debug("registration finished", zap.String("username", username))
	return nil
}

// CheckAuthMethods asks the server which authentication mechanisms are
// available for username. Callers use it to pick between the OPAQUE and
// legacy login variants.
func (f *Flow) CheckAuthMethods(ctx context.Context, username string) (AuthMethods, error) {
	var resp checkResponse
	if err := f.doer.Post(ctx, cmdCheckMethods, checkRequest{Username: username}, &resp); err != nil {
		return AuthMethods{}, err
	}
	return AuthMethods{
		OpaqueEnabled:      resp.OpaqueEnabled,
		SRPEnabled:         resp.SRPEnabled,
		MigrationAvailable: resp.MigrationAvailable,
	}, nil
}

// redactToken returns the shortened token hint sent in PAT init requests.
// The full token never appears outside the exchange blobs.
func redactToken(token string) string {
	if len(token) > 12 {
		return token[:12] + "..."
	}
	return token
}
