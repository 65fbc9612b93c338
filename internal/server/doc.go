// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package server provides the HTTP API for the browser client.

The server exposes the chat application over JSON endpoints: prompt
dispatch, retry, conversation lifecycle, model catalog, credential and
preference management, and export/import. POST /api/chat blocks until
every selected model's completion settles; clients that want to watch
placeholders fill in poll GET /api/messages while a round is in flight.

# Key Types

  - Server: route setup, middleware chain, and lifecycle
  - ServerStats: request and round counters for GET /stats

# Usage

	srv := server.NewServer(app, 8090).WithAllowedOrigin("http://localhost:5173")
	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}

Middleware applied to all routes: panic recovery, security headers,
request logging, CORS, per-IP rate limiting, and a request body cap.
*/
package server
