// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

package trashmail_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trashmail "github.com/trashmail/trashmail-go"
	"github.com/trashmail/trashmail-go/internal/pkg/servertest"
)

// startDouble brings up the API double behind a real HTTP listener and
// returns a Flow talking to it.
func startDouble(t *testing.T) (*servertest.Server, *trashmail.Flow) {
	t.Helper()
	double, err := servertest.New()
	require.NoError(t, err)
	srv := httptest.NewServer(double)
	t.Cleanup(srv.Close)

	flow := trashmail.NewFlow(
		trashmail.NewTransport(srv.URL, ""),
		&trashmail.OpaqueEngine{KeyBits: servertest.KeyBits},
		nil,
	)
	return double, flow
}

func TestLoginEndToEnd(t *testing.T) {
	double, flow := startDouble(t)
	require.NoError(t, double.Seed("u1", "p1"))

	res, err := flow.Login(context.Background(), "u1", "p1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.SessionKey), 16)
	assert.NotEmpty(t, res.SessionID)
	if !bytes.Equal(res.SessionKey, double.SessionKey("u1")) {
		t.Fatal("client and server session keys differ")
	}
}

func TestLoginEndToEndWrongPassword(t *testing.T) {
	double, flow := startDouble(t)
	require.NoError(t, double.Seed("u1", "p1"))

	res, err := flow.Login(context.Background(), "u1", "wrong")
	assert.Nil(t, res)
	require.ErrorIs(t, err, trashmail.ErrAuthRejected)
	assert.Equal(t, "incorrect password", err.Error())
	assert.Equal(t, 1, double.Calls("opaque_login_init"), "no retries")
	assert.Zero(t, double.Calls("opaque_login_finish"), "rejected attempt must not reach the finish endpoint")
}

func TestLoginEndToEndUnknownIdentity(t *testing.T) {
	double, flow := startDouble(t)
	require.NoError(t, double.Seed("u1", "p1"))

	// The failure for an unknown account must be byte-for-byte the
	// failure for a wrong password.
	_, wrongErr := flow.Login(context.Background(), "u1", "wrong")
	_, unknownErr := flow.Login(context.Background(), "nobody", "p1")
	require.Error(t, wrongErr)
	require.Error(t, unknownErr)
	assert.Equal(t, wrongErr.Error(), unknownErr.Error())
}

func TestTokenLoginEndToEnd(t *testing.T) {
	double, flow := startDouble(t)
	require.NoError(t, double.SeedPAT("u1", "tmpat_abc123"))

	res, err := flow.LoginToken(context.Background(), "u1", "tmpat_abc123")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.SessionKey), 16)

	// Malformed tokens never reach the server: the only traffic seen is
	// the two round trips of the valid login above.
	_, err = flow.LoginToken(context.Background(), "u1", "notmpat_x")
	require.ErrorIs(t, err, trashmail.ErrCredentialFormat)
	assert.Equal(t, 2, double.Calls(""), "only the valid token may generate traffic")
}

func TestRegisterThenLoginEndToEnd(t *testing.T) {
	double, flow := startDouble(t)

	require.NoError(t, flow.Register(context.Background(), "u2", "newpass"))

	res, err := flow.Login(context.Background(), "u2", "newpass")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.SessionKey), 16)
	if !bytes.Equal(res.SessionKey, double.SessionKey("u2")) {
		t.Fatal("client and server session keys differ")
	}

	_, err = flow.Login(context.Background(), "u2", "oldpass")
	assert.ErrorIs(t, err, trashmail.ErrAuthRejected)
}

func TestLoginEndToEndTruncatedInit(t *testing.T) {
	double, flow := startDouble(t)
	require.NoError(t, double.Seed("u1", "p1"))

	double.DropSessionID = true
	_, err := flow.Login(context.Background(), "u1", "p1")
	assert.ErrorIs(t, err, trashmail.ErrServerProtocol)

	double.DropSessionID = false
	double.DropChallenge = true
	_, err = flow.Login(context.Background(), "u1", "p1")
	assert.ErrorIs(t, err, trashmail.ErrServerProtocol)
	assert.Zero(t, double.Calls("opaque_login_finish"))
}

func TestLoginEndToEndExpiredSession(t *testing.T) {
	double, flow := startDouble(t)
	require.NoError(t, double.Seed("u1", "p1"))

	double.FailFinish = true
	res, err := flow.Login(context.Background(), "u1", "p1")
	assert.Nil(t, res)
	require.ErrorIs(t, err, trashmail.ErrServerRejected)
	var apiErr *trashmail.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 419, apiErr.Code)
}

func TestCheckAuthMethodsEndToEnd(t *testing.T) {
	double, flow := startDouble(t)
	require.NoError(t, double.Seed("u1", "p1"))
	double.SeedLegacy("old-user", "p1")

	methods, err := flow.CheckAuthMethods(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, methods.OpaqueEnabled)

	methods, err = flow.CheckAuthMethods(context.Background(), "old-user")
	require.NoError(t, err)
	assert.False(t, methods.OpaqueEnabled)
	assert.True(t, methods.SRPEnabled)

	// Unknown accounts look like OPAQUE accounts; the probe must not
	// reveal existence.
	methods, err = flow.CheckAuthMethods(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, methods.OpaqueEnabled)
}

func TestClientEndToEnd(t *testing.T) {
	double, err := servertest.New()
	require.NoError(t, err)
	double.DEAList = []map[string]any{
		{"dea": "x1@trashmail.com", "realemail": "me@example.com"},
	}
	srv := httptest.NewServer(double)
	t.Cleanup(srv.Close)

	require.NoError(t, double.Seed("u1", "p1"))
	double.SeedLegacy("old-user", "legacy-pass")

	c := trashmail.NewClient(srv.URL,
		trashmail.WithEngine(&trashmail.OpaqueEngine{KeyBits: servertest.KeyBits}),
	)

	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "u1", "p1"))
	assert.True(t, c.IsAuthenticated())

	deas, err := c.DEAs(ctx)
	require.NoError(t, err)
	require.Len(t, deas, 1)
	assert.Equal(t, "x1@trashmail.com", deas[0].Address)

	c.Logout(ctx)
	assert.False(t, c.IsAuthenticated())

	// A legacy account takes the fallback path through cmd=login.
	require.NoError(t, c.Login(ctx, "old-user", "legacy-pass"))
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, 1, double.Calls("login"))
}

func TestConcurrentAttempts(t *testing.T) {
	double, flow := startDouble(t)
	require.NoError(t, double.Seed("u1", "p1"))
	require.NoError(t, double.Seed("u2", "p2"))

	type outcome struct {
		res *trashmail.AuthResult
		err error
	}
	creds := []struct{ user, pass string }{
		{"u1", "p1"},
		{"u2", "p2"},
		{"u1", "wrong"},
		{"u2", "p2"},
	}
	results := make(chan outcome, len(creds))
	for _, cred := range creds {
		go func(user, pass string) {
			res, err := flow.Login(context.Background(), user, pass)
			results <- outcome{res, err}
		}(cred.user, cred.pass)
	}

	var ok, rejected int
	for range creds {
		out := <-results
		switch {
		case out.err == nil:
			require.GreaterOrEqual(t, len(out.res.SessionKey), 16)
			ok++
		default:
			require.ErrorIs(t, out.err, trashmail.ErrAuthRejected)
			rejected++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, rejected)
}
