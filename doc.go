// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

/*
Package trashmail is a client for the TrashMail.com account API. It drives the
site's OPAQUE password-authentication flow and exposes the small set of
authenticated commands needed for API automation (disposable address
management, logout).

Authentication runs over OPAQUE, a password-authenticated key exchange: the
password never leaves the process, only opaque protocol blobs do. All
cryptographic steps are delegated to the github.com/frekui/opaque module; this
package only sequences the exchange. A login is two round trips: the engine
produces a request blob, the blob is POSTed to the init endpoint, the server's
challenge is fed back into the engine, and the engine's answer is POSTed to
the finish endpoint. On success client and server hold the same session key.

The moving parts are injectable. Flow sequences one exchange and is
polymorphic over an Engine (the PAKE primitives) and a Doer (the HTTP
transport); both have production implementations in this package and can be
replaced by test doubles. Client wraps a Flow with the session handling and
convenience calls most programs want:

	c := trashmail.NewClient("https://trashmail.com")
	if err := c.Login(ctx, "user@example.com", password); err != nil {
		// handle
	}
	deas, err := c.DEAs(ctx)

Personal access tokens (strings with the "tmpat_" prefix) authenticate through
the same exchange on a separate endpoint pair; Client.Login routes them
automatically.

The server side is not implemented here. The internal servertest package
contains an in-process double speaking the same wire protocol, used by the
end-to-end tests.
*/
package trashmail
