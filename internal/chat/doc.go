// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the core of the multi-model comparison:
// application state, the dispatch fan-out, and single-response retry.
//
// One prompt fans out to every selected model concurrently. The user
// message and one pending placeholder per model are appended before
// any network work starts, so the layout of a round is fixed the
// moment it begins. Each completion settles its own placeholder under
// the state lock; one model's failure never disturbs another's slot.
// Dispatch blocks until the whole round settles and persists the
// conversation on both sides of the fan-out.
//
// # Key Types
//
//   - App: all application state plus the typed operations over it
//   - State: the mutex-guarded message list of the active conversation
//   - Round: the settled result of one dispatch
//   - Gateway: the outbound completion surface (cloud.Client in production)
//
// # Usage
//
//	app := chat.NewApp(client, st, idx)
//	app.Bootstrap(ctx)
//	round, err := app.Dispatch(ctx, "compare yourselves")
//	if err != nil {
//		// a precondition failed; nothing was changed
//	}
package chat
