// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

package trashmail

import (
	"encoding/json"
	"fmt"

	"github.com/frekui/opaque"
)

// Engine provides the cryptographic half of the authentication flow. It is
// the only thing Flow is polymorphic over besides the transport: start a
// login or registration, get back an opaque request blob and a single-use
// state, feed the server's challenge into the matching finish call.
//
// Blobs are opaque byte strings. The driver never inspects them; it only
// base64url-encodes them into request bodies and decodes challenges out of
// response bodies.
type Engine interface {
	// StartLogin begins an exchange for the given credential. The
	// returned state must be passed to exactly one FinishLogin call.
	StartLogin(username, secret string) (*LoginState, []byte, error)

	// FinishLogin consumes the server's challenge and returns the finish
	// blob together with the derived session key. A credential mismatch
	// is reported as ErrAuthRejected with no further detail; reusing a
	// consumed state is reported as ErrStateConsumed.
	FinishLogin(state *LoginState, challenge []byte) (finish, sessionKey []byte, err error)

	// StartRegistration begins registering a new credential.
	StartRegistration(username, secret string) (*RegistrationState, []byte, error)

	// FinishRegistration consumes the server's registration challenge and
	// returns the record blob to upload. The state is single use, as with
	// FinishLogin.
	FinishRegistration(state *RegistrationState, challenge []byte) ([]byte, error)
}

// LoginState is the client-side context bridging the two rounds of one login
// exchange. It is produced by StartLogin, consumed by FinishLogin, and must
// not be reused or shared between attempts.
type LoginState struct {
	sess     *opaque.AuthClientSession
	consumed bool
}

// RegistrationState is the registration counterpart of LoginState.
type RegistrationState struct {
	sess     *opaque.PwRegClientSession
	consumed bool
}

// OpaqueEngine is the production Engine. It delegates to the
// github.com/frekui/opaque implementation of OPAQUE; the server speaks
// exactly this variant, and substituting another OPAQUE implementation breaks
// the wire format even though the abstract protocol is the same.
//
// Blobs are the JSON encodings of the opaque package's protocol messages.
type OpaqueEngine struct {
	// KeyBits is the RSA modulus size used for the user keypair generated
	// during registration. Zero means 2048. Tests use smaller keys to
	// keep registration fast.
	KeyBits int
}

func (e *OpaqueEngine) keyBits() int {
	if e.KeyBits == 0 {
		return 2048
	}
	return e.KeyBits
}

// StartLogin implements Engine.
func (e *OpaqueEngine) StartLogin(username, secret string) (*LoginState, []byte, error) {
	sess, msg1, err := opaque.AuthInit(username, secret)
	if err != nil {
		return nil, nil, fmt.Errorf("opaque auth init: %w", err)
	}
	data, err := json.Marshal(msg1)
	if err != nil {
		return nil, nil, err
	}
	return &LoginState{sess: sess}, data, nil
}

// FinishLogin implements Engine.
//
// Any failure while processing the challenge is reported as ErrAuthRejected.
// The opaque package distinguishes several internal causes (authtag mismatch,
// bad signature, bad MAC) but surfacing them would leak which part of the
// exchange failed, which is exactly what OPAQUE exists to avoid.
func (e *OpaqueEngine) FinishLogin(state *LoginState, challenge []byte) ([]byte, []byte, error) {
	if state == nil || state.sess == nil {
		return nil, nil, ErrStateConsumed
	}
	if state.consumed {
		return nil, nil, ErrStateConsumed
	}
	state.consumed = true

	var msg2 opaque.AuthMsg2
	if err := json.Unmarshal(challenge, &msg2); err != nil {
		return nil, nil, fmt.Errorf("%w: undecodable challenge", ErrServerProtocol)
	}
	sessionKey, msg3, err := opaque.Auth2(state.sess, msg2)
	if err != nil {
		return nil, nil, ErrAuthRejected
	}
	data, err := json.Marshal(msg3)
	if err != nil {
		return nil, nil, err
	}
	return data, sessionKey, nil
}

// StartRegistration implements Engine.
func (e *OpaqueEngine) StartRegistration(username, secret string) (*RegistrationState, []byte, error) {
	sess, msg1, err := opaque.PwRegInit(username, secret, e.keyBits())
	if err != nil {
		return nil, nil, fmt.Errorf("opaque pwreg init: %w", err)
	}
	data, err := json.Marshal(msg1)
	if err != nil {
		return nil, nil, err
	}
	return &RegistrationState{sess: sess}, data, nil
}

// FinishRegistration implements Engine.
func (e *OpaqueEngine) FinishRegistration(state *RegistrationState, challenge []byte) ([]byte, error) {
	if state == nil || state.sess == nil {
		return nil, ErrStateConsumed
	}
	if state.consumed {
		return nil, ErrStateConsumed
	}
	state.consumed = true

	var msg2 opaque.PwRegMsg2
	if err := json.Unmarshal(challenge, &msg2); err != nil {
		return nil, fmt.Errorf("%w: undecodable registration challenge", ErrServerProtocol)
	}
	msg3, err := opaque.PwReg2(state.sess, msg2)
	if err != nil {
		return nil, fmt.Errorf("opaque pwreg finalize: %w", err)
	}
	return json.Marshal(msg3)
}
