// Copyright (c) 2025 Aionda GmbH, trashmail.com
//
// Use of this source code is governed by the BSD-style license that can be
// found in the LICENSE file.

// Command trashmail-login runs one TrashMail login attempt with credentials
// from the environment and exits non-zero on any failure. It is mainly used
// for interoperability checks against the live API.
//
// Environment:
//
//	TRASHMAIL_USER     account name (required)
//	TRASHMAIL_PASS     password or tmpat_ personal access token (required)
//	TRASHMAIL_API_URL  API base URL, default https://trashmail.com
//	TRASHMAIL_LANG     language code, default en
//
// A .env file in the working directory is loaded if present.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	trashmail "github.com/trashmail/trashmail-go"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "%s runs a single TrashMail login attempt with credentials from the environment.\nUsage:\n", os.Args[0])
		flag.PrintDefaults()
	}

	verbose := flag.Bool("v", false, "Enable debug logging.")
	listDEAs := flag.Bool("deas", false, "List disposable addresses after login.")
	flag.Parse()

	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	username := os.Getenv("TRASHMAIL_USER")
	secret := os.Getenv("TRASHMAIL_PASS")
	if username == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "TRASHMAIL_USER and TRASHMAIL_PASS must be set")
		os.Exit(2)
	}
	baseURL := strings.TrimRight(os.Getenv("TRASHMAIL_API_URL"), "/")
	lang := os.Getenv("TRASHMAIL_LANG")
	if len(lang) > 2 {
		lang = lang[:2]
	}

	log := zap.NewNop()
	if *verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %s\n", err)
			os.Exit(1)
		}
	}
	defer log.Sync()

	client := trashmail.NewClient(baseURL,
		trashmail.WithLang(lang),
		trashmail.WithLogger(log),
	)

	ctx := context.Background()
	if err := client.Login(ctx, username, secret); err != nil {
		fmt.Fprintf(os.Stderr, "login: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Logged in as %s\n", client.Username())

	if *listDEAs {
		deas, err := client.DEAs(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read_dea: %s\n", err)
			os.Exit(1)
		}
		fmt.Printf("Found %d disposable addresses\n", len(deas))
		for _, dea := range deas {
			fmt.Printf("  - %s\n", dea.Address)
		}
	}

	client.Logout(ctx)
}
