// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

package trashmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/cookiejar"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://trashmail.com"

// Doer issues one API request: a POST of a JSON body to the base URL with the
// command in the query string, decoding the JSON response into out. It is the
// transport capability Flow and Client are built on; tests substitute doubles
// that never touch the network.
//
// Implementations must not retry. A failed request is reported once, as an
// error wrapping ErrTransport (request not completed or non-2xx status) or
// ErrServerProtocol (undecodable response body).
type Doer interface {
	Post(ctx context.Context, cmd string, body, out any) error
}

// Transport is the production Doer. It mirrors the request shape of the
// TrashMail web client: every call is a POST to baseURL/ with lang, api=1 and
// cmd query parameters, and a cookie jar carries the session_id and pat
// cookies the server sets during authentication.
type Transport struct {
	rc *resty.Client
}

// NewTransport returns a Transport for the given base URL and language code.
// Empty arguments select DefaultBaseURL and "en".
func NewTransport(baseURL, lang string) *Transport {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if lang == "" {
		lang = "en"
	}
	jar, _ := cookiejar.New(nil)
	rc := resty.New().
		SetBaseURL(baseURL).
		SetCookieJar(jar).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"lang": lang,
			"api":  "1",
		})
	return &Transport{rc: rc}
}

// Post implements Doer.
func (t *Transport) Post(ctx context.Context, cmd string, body, out any) error {
	resp, err := t.rc.R().
		SetContext(ctx).
		SetQueryParam("cmd", cmd).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/")
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrTransport, cmd, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s: HTTP %d", ErrTransport, cmd, resp.StatusCode())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %s: undecodable response: %s", ErrServerProtocol, cmd, err)
	}
	return nil
}
