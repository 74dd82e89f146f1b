// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

// Package blob encodes protocol blobs for transport in JSON bodies. Blobs are
// opaque to the client; they are produced and consumed by the OPAQUE engine
// and only pass through here on their way to and from the wire.
package blob

import (
	"encoding/base64"
	"strings"
)

// Encode returns the base64url encoding of data without padding, the form the
// TrashMail API expects in request bodies.
func Encode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode decodes a base64 blob from a response. The server is sloppy about
// alphabets and padding across endpoints, so Decode pads the input and
// accepts both the standard and the URL-safe alphabet.
func Decode(s string) ([]byte, error) {
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
