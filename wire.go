// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

package trashmail

import "encoding/json"

// API command identifiers. Every request is a POST to the base URL with the
// command in the cmd query parameter; these names are part of the wire
// protocol and must stay in sync with the server.
const (
	cmdCheckMethods   = "opaque_check"
	cmdLoginInit      = "opaque_login_init"
	cmdLoginFinish    = "opaque_login_finish"
	cmdPATLoginInit   = "pat_opaque_auth_init"
	cmdPATLoginFinish = "pat_opaque_auth_finish"
	cmdRegisterInit   = "opaque_register_init"
	cmdRegisterFinish = "opaque_register_finish"
	cmdLegacyLogin    = "login"
	cmdLogout         = "logout"
	cmdReadDEA        = "read_dea"
	cmdSaveDEA        = "save_dea"
)

// envelope holds the fields common to every API response.
type envelope struct {
	Success   bool   `json:"success"`
	ErrorCode int    `json:"error_code,omitempty"`
	Msg       string `json:"msg,omitempty"`
}

// checkRequest and checkResponse belong to cmd=opaque_check.
type checkRequest struct {
	Username string `json:"username"`
}

type checkResponse struct {
	envelope
	OpaqueEnabled      bool `json:"opaque_enabled"`
	SRPEnabled         bool `json:"srp_enabled"`
	MigrationAvailable bool `json:"migration_available"`
}

// initRequest starts an exchange. StartRequest is the engine's first blob,
// base64url encoded. TokenPrefix is a redacted hint sent only on the PAT
// endpoints, mirroring what the web client sends; it is informational and
// never the full token.
type initRequest struct {
	Username     string `json:"username"`
	TokenPrefix  string `json:"token_prefix,omitempty"`
	StartRequest string `json:"startLoginRequest"`
}

// initResponse carries the server's challenge. Both fields are required; an
// init response without them is a protocol violation.
type initResponse struct {
	envelope
	SessionID     string `json:"session_id"`
	LoginResponse string `json:"loginResponse"`
}

// finishRequest completes an exchange started under SessionID.
type finishRequest struct {
	SessionID     string `json:"session_id"`
	FinishRequest string `json:"finishLoginRequest"`
}

type finishResponse struct {
	envelope
	SessionID string     `json:"session_id,omitempty"`
	Data      finishData `json:"data"`
}

// finishData is the command-specific payload of a successful finish.
type finishData struct {
	SessionID string `json:"session_id,omitempty"`
	PAT       string `json:"pat,omitempty"`
}

// registerInitRequest and friends belong to the registration endpoint pair.
// The shape matches the login pair, with the registration blobs under their
// own field names.
type registerInitRequest struct {
	Username            string `json:"username"`
	RegistrationRequest string `json:"registrationRequest"`
}

type registerInitResponse struct {
	envelope
	SessionID            string `json:"session_id"`
	RegistrationResponse string `json:"registrationResponse"`
}

type registerFinishRequest struct {
	SessionID          string `json:"session_id"`
	RegistrationRecord string `json:"registrationRecord"`
}

// apiResponse is the envelope of authenticated non-auth commands such as
// read_dea. Data is left raw; each call decodes its own payload.
type apiResponse struct {
	envelope
	Data json.RawMessage `json:"data,omitempty"`
}

// legacyLoginRequest is the classic form-style login body. The field names
// come from the web login form and predate the API.
type legacyLoginRequest struct {
	User string `json:"fe-login-user"`
	Pass string `json:"fe-login-pass"`
}

type legacyLoginResponse struct {
	envelope
	Data legacyLoginData `json:"data"`
}

type legacyLoginData struct {
	SessionID   string `json:"session_id,omitempty"`
	Requires2FA bool   `json:"requires_2fa,omitempty"`
}
