// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

package trashmail

import (
	"context"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(doer Doer) *Client {
	return NewClient("", WithDoer(doer), WithEngine(&fakeEngine{}))
}

func TestClientLoginRoutesPAT(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		cmdPATLoginInit:   initResponseJSON(),
		cmdPATLoginFinish: `{"success":true,"data":{"session_id":"sid-2"}}`,
	}}
	c := newTestClient(doer)

	require.NoError(t, c.Login(context.Background(), "u1", "tmpat_abc123"))
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, "u1", c.Username())
	if diff := deep.Equal(doer.calls, []string{cmdPATLoginInit, cmdPATLoginFinish}); diff != nil {
		t.Fatal(diff)
	}
}

func TestClientLoginPrefersOpaque(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		cmdCheckMethods: `{"success":true,"opaque_enabled":true}`,
		cmdLoginInit:    initResponseJSON(),
		cmdLoginFinish:  `{"success":true,"data":{"session_id":"sid-2"}}`,
	}}
	c := newTestClient(doer)

	require.NoError(t, c.Login(context.Background(), "u1", "p1"))
	if diff := deep.Equal(doer.calls, []string{cmdCheckMethods, cmdLoginInit, cmdLoginFinish}); diff != nil {
		t.Fatal(diff)
	}
}

func TestClientLoginLegacyFallback(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		cmdCheckMethods: `{"success":true,"opaque_enabled":false,"srp_enabled":true}`,
		cmdLegacyLogin:  `{"success":true,"data":{"session_id":"sid-3"}}`,
	}}
	c := newTestClient(doer)

	require.NoError(t, c.Login(context.Background(), "legacy-user", "p1"))
	assert.True(t, c.IsAuthenticated())
	if diff := deep.Equal(doer.calls, []string{cmdCheckMethods, cmdLegacyLogin}); diff != nil {
		t.Fatal(diff)
	}
}

func TestClientLoginProbeFailureStillTriesOpaque(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		cmdLoginInit:   initResponseJSON(),
		cmdLoginFinish: `{"success":true,"data":{"session_id":"sid-2"}}`,
	}}
	c := newTestClient(doer)

	require.NoError(t, c.Login(context.Background(), "u1", "p1"))
	if diff := deep.Equal(doer.calls, []string{cmdCheckMethods, cmdLoginInit, cmdLoginFinish}); diff != nil {
		t.Fatal(diff)
	}
}

func TestClientLegacyLoginTwoFactor(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		cmdLegacyLogin: `{"success":true,"data":{"requires_2fa":true}}`,
	}}
	c := newTestClient(doer)

	err := c.LegacyLogin(context.Background(), "u1", "p1")
	assert.ErrorIs(t, err, ErrTwoFactorRequired)
	assert.False(t, c.IsAuthenticated())
}

func TestClientLegacyLoginRejected(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		cmdLegacyLogin: `{"success":false,"error_code":401,"msg":"Login failed"}`,
	}}
	c := newTestClient(doer)

	err := c.LegacyLogin(context.Background(), "u1", "wrong")
	require.ErrorIs(t, err, ErrServerRejected)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Login failed", apiErr.Msg)
	assert.False(t, c.IsAuthenticated())
}

func TestClientAPICallRequiresLogin(t *testing.T) {
	doer := &fakeDoer{}
	c := newTestClient(doer)

	_, err := c.APICall(context.Background(), cmdReadDEA, nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, doer.calls)
}

func TestClientDEAs(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		cmdPATLoginInit:   initResponseJSON(),
		cmdPATLoginFinish: `{"success":true,"data":{"session_id":"sid-2"}}`,
		cmdReadDEA:        `{"success":true,"data":[{"dea":"x1@trashmail.com","realemail":"me@example.com"},{"dea":"x2@trashmail.com"}]}`,
	}}
	c := newTestClient(doer)
	require.NoError(t, c.Login(context.Background(), "u1", "tmpat_abc123"))

	deas, err := c.DEAs(context.Background())
	require.NoError(t, err)
	if diff := deep.Equal(deas, []DEA{
		{Address: "x1@trashmail.com", RealEmail: "me@example.com"},
		{Address: "x2@trashmail.com"},
	}); diff != nil {
		t.Fatal(diff)
	}
}

func TestClientLogout(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		cmdPATLoginInit:   initResponseJSON(),
		cmdPATLoginFinish: `{"success":true,"data":{"session_id":"sid-2"}}`,
		cmdLogout:         `{"success":true}`,
	}}
	c := newTestClient(doer)
	require.NoError(t, c.Login(context.Background(), "u1", "tmpat_abc123"))

	c.Logout(context.Background())
	assert.False(t, c.IsAuthenticated())
	assert.Equal(t, "", c.Username())

	// Logout on an unauthenticated client is a no-op.
	before := len(doer.calls)
	c.Logout(context.Background())
	assert.Len(t, doer.calls, before)
}
