// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

// Package servertest contains an in-process double of the TrashMail API
// speaking the same wire protocol as the production server: JSON bodies,
// cmd query parameter, base64url protocol blobs. The OPAQUE server side is
// the real thing, backed by github.com/frekui/opaque, so exchanges against
// the double are cryptographically complete end to end.
//
// The double is test tooling. It keeps verifier records in maps, mints
// session ids with package uuid, and offers fault switches for exercising
// protocol-violation handling in the client.
package servertest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/frekui/opaque"
	"github.com/google/uuid"
)

// KeyBits is the RSA modulus size used by the double. Small on purpose;
// registration generates a user keypair and tests should not spend seconds
// on it.
const KeyBits = 512

// Server is an http.Handler implementing the API double. Configure the fault
// fields before serving traffic; they are not synchronized.
type Server struct {
	// DropSessionID omits session_id from init responses.
	DropSessionID bool

	// DropChallenge omits the challenge blob from init responses.
	DropChallenge bool

	// FailFinish refuses every finish step as if the exchange session had
	// expired.
	FailFinish bool

	// DEAList is served verbatim as the data payload of read_dea.
	DEAList []map[string]any

	privS *rsa.PrivateKey

	mu       sync.Mutex
	users    map[string]*opaque.User
	patUsers map[string]*opaque.User
	legacy   map[string]string
	decoy    *opaque.User
	pending  map[string]*exchange
	keys     map[string][]byte
	calls    map[string]int
}

// exchange is one half-open init/finish pair.
type exchange struct {
	username string
	auth     *opaque.AuthServerSession
	reg      *opaque.PwRegServerSession
}

// New returns a double with a fresh server key and no accounts.
func New() (*Server, error) {
	privS, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, err
	}
	s := &Server{
		privS:    privS,
		users:    map[string]*opaque.User{},
		patUsers: map[string]*opaque.User{},
		legacy:   map[string]string{},
		pending:  map[string]*exchange{},
		keys:     map[string][]byte{},
		calls:    map[string]int{},
	}
	// Unknown identities are served a challenge derived from this record
	// so that their exchanges fail exactly like a wrong password does.
	s.decoy, err = s.record("__decoy__", uuid.NewString())
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Seed registers a password account by running the registration protocol
// locally.
func (s *Server) Seed(username, password string) error {
	user, err := s.record(username, password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.users[username] = user
	s.mu.Unlock()
	return nil
}

// SeedPAT registers a personal access token for username.
func (s *Server) SeedPAT(username, token string) error {
	user, err := s.record(username, token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.patUsers[username] = user
	s.mu.Unlock()
	return nil
}

// SeedLegacy registers a classic password account with OPAQUE disabled.
func (s *Server) SeedLegacy(username, password string) {
	s.mu.Lock()
	s.legacy[username] = password
	s.mu.Unlock()
}

// SessionKey returns the key the server derived during username's last
// successful login, for comparing against the client's copy.
func (s *Server) SessionKey(username string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[username]
}

// Calls returns how many requests the double has served, total or for one
// command.
func (s *Server) Calls(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd == "" {
		n := 0
		for _, c := range s.calls {
			n += c
		}
		return n
	}
	return s.calls[cmd]
}

// record runs the registration protocol against the double's own key and
// returns the resulting verifier record.
func (s *Server) record(username, secret string) (*opaque.User, error) {
	csess, msg1, err := opaque.PwRegInit(username, secret, KeyBits)
	if err != nil {
		return nil, err
	}
	ssess, msg2, err := opaque.PwReg1(s.privS, msg1)
	if err != nil {
		return nil, err
	}
	msg3, err := opaque.PwReg2(csess, msg2)
	if err != nil {
		return nil, err
	}
	return opaque.PwReg3(ssess, msg3), nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cmd := r.URL.Query().Get("cmd")
	s.mu.Lock()
	s.calls[cmd]++
	s.mu.Unlock()

	var body map[string]any
	if r.Body != nil {
		// Bodies are small; decode errors fall through to the handlers
		// as missing fields.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch cmd {
	case "opaque_check":
		s.handleCheck(w, body)
	case "opaque_login_init":
		s.handleLoginInit(w, body, s.users)
	case "pat_opaque_auth_init":
		s.handleLoginInit(w, body, s.patUsers)
	case "opaque_login_finish", "pat_opaque_auth_finish":
		s.handleLoginFinish(w, body)
	case "opaque_register_init":
		s.handleRegisterInit(w, body)
	case "opaque_register_finish":
		s.handleRegisterFinish(w, body)
	case "login":
		s.handleLegacyLogin(w, body)
	case "logout":
		writeJSON(w, map[string]any{"success": true})
	case "read_dea":
		writeJSON(w, map[string]any{"success": true, "data": s.DEAList})
	default:
		writeJSON(w, map[string]any{"success": false, "error_code": 404, "msg": fmt.Sprintf("unknown command %q", cmd)})
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, body map[string]any) {
	username, _ := body["username"].(string)
	s.mu.Lock()
	_, legacyOnly := s.legacy[username]
	if _, ok := s.users[username]; ok {
		legacyOnly = false
	}
	s.mu.Unlock()
	// Unknown accounts report OPAQUE enabled; the capability probe must
	// not reveal whether an account exists.
	writeJSON(w, map[string]any{
		"success":             true,
		"opaque_enabled":      !legacyOnly,
		"srp_enabled":         legacyOnly,
		"migration_available": legacyOnly,
	})
}

func (s *Server) handleLoginInit(w http.ResponseWriter, body map[string]any, accounts map[string]*opaque.User) {
	username, _ := body["username"].(string)
	start, _ := body["startLoginRequest"].(string)

	var msg1 opaque.AuthMsg1
	if err := decodeBlob(start, &msg1); err != nil {
		writeJSON(w, map[string]any{"success": false, "error_code": 400, "msg": "bad startLoginRequest"})
		return
	}

	s.mu.Lock()
	user, ok := accounts[username]
	s.mu.Unlock()
	if !ok {
		user = s.decoy
	}

	sess, msg2, err := opaque.Auth1(s.privS, user, msg1)
	if err != nil {
		writeJSON(w, map[string]any{"success": false, "error_code": 400, "msg": "bad exchange message"})
		return
	}

	sid := uuid.NewString()
	s.mu.Lock()
	s.pending[sid] = &exchange{username: username, auth: sess}
	s.mu.Unlock()

	resp := map[string]any{"success": true}
	if !s.DropSessionID {
		resp["session_id"] = sid
	}
	if !s.DropChallenge {
		challenge, err := encodeBlob(msg2)
		if err != nil {
			writeJSON(w, map[string]any{"success": false, "error_code": 500, "msg": err.Error()})
			return
		}
		resp["loginResponse"] = challenge
	}
	writeJSON(w, resp)
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, body map[string]any) {
	sid, _ := body["session_id"].(string)
	finish, _ := body["finishLoginRequest"].(string)

	s.mu.Lock()
	ex := s.pending[sid]
	delete(s.pending, sid)
	s.mu.Unlock()

	if s.FailFinish || ex == nil || ex.auth == nil {
		writeJSON(w, map[string]any{"success": false, "error_code": 419, "msg": "authentication session expired"})
		return
	}

	var msg3 opaque.AuthMsg3
	if err := decodeBlob(finish, &msg3); err != nil {
		writeJSON(w, map[string]any{"success": false, "error_code": 400, "msg": "bad finishLoginRequest"})
		return
	}
	key, err := opaque.Auth3(ex.auth, msg3)
	if err != nil {
		// Uniform refusal: wrong credentials and unknown accounts are
		// indistinguishable from here.
		writeJSON(w, map[string]any{"success": false, "error_code": 401, "msg": "authentication failed"})
		return
	}

	s.mu.Lock()
	s.keys[ex.username] = key
	s.mu.Unlock()
	writeJSON(w, map[string]any{
		"success": true,
		"data":    map[string]any{"session_id": uuid.NewString()},
	})
}

func (s *Server) handleRegisterInit(w http.ResponseWriter, body map[string]any) {
	username, _ := body["username"].(string)
	start, _ := body["registrationRequest"].(string)

	var msg1 opaque.PwRegMsg1
	if err := decodeBlob(start, &msg1); err != nil {
		writeJSON(w, map[string]any{"success": false, "error_code": 400, "msg": "bad registrationRequest"})
		return
	}
	sess, msg2, err := opaque.PwReg1(s.privS, msg1)
	if err != nil {
		writeJSON(w, map[string]any{"success": false, "error_code": 400, "msg": "bad exchange message"})
		return
	}

	sid := uuid.NewString()
	s.mu.Lock()
	s.pending[sid] = &exchange{username: username, reg: sess}
	s.mu.Unlock()

	resp := map[string]any{"success": true}
	if !s.DropSessionID {
		resp["session_id"] = sid
	}
	if !s.DropChallenge {
		challenge, err := encodeBlob(msg2)
		if err != nil {
			writeJSON(w, map[string]any{"success": false, "error_code": 500, "msg": err.Error()})
			return
		}
		resp["registrationResponse"] = challenge
	}
	writeJSON(w, resp)
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, body map[string]any) {
	sid, _ := body["session_id"].(string)
	record, _ := body["registrationRecord"].(string)

	s.mu.Lock()
	ex := s.pending[sid]
	delete(s.pending, sid)
	s.mu.Unlock()

	if s.FailFinish || ex == nil || ex.reg == nil {
		writeJSON(w, map[string]any{"success": false, "error_code": 419, "msg": "registration session expired"})
		return
	}

	var msg3 opaque.PwRegMsg3
	if err := decodeBlob(record, &msg3); err != nil {
		writeJSON(w, map[string]any{"success": false, "error_code": 400, "msg": "bad registrationRecord"})
		return
	}
	user := opaque.PwReg3(ex.reg, msg3)

	s.mu.Lock()
	s.users[ex.username] = user
	s.mu.Unlock()
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleLegacyLogin(w http.ResponseWriter, body map[string]any) {
	username, _ := body["fe-login-user"].(string)
	password, _ := body["fe-login-pass"].(string)

	s.mu.Lock()
	want, ok := s.legacy[username]
	s.mu.Unlock()
	if !ok || want != password {
		writeJSON(w, map[string]any{"success": false, "error_code": 401, "msg": "Login failed"})
		return
	}
	writeJSON(w, map[string]any{
		"success": true,
		"data":    map[string]any{"session_id": uuid.NewString()},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// encodeBlob JSON-encodes a protocol message and base64url-wraps it for the
// response body.
func encodeBlob(msg any) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// decodeBlob reverses encodeBlob, tolerating padded input.
func decodeBlob(s string, msg any) error {
	if s == "" {
		return fmt.Errorf("empty blob")
	}
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, msg)
}
