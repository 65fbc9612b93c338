// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides configuration management for polychat.

Configuration is loaded from ~/.polychat/config.toml, falling back to
~/.polychat/config.json, falling back to built-in defaults. Environment
variables (POLYCHAT_PORT, POLYCHAT_OPENROUTER_KEY, POLYCHAT_BASE_URL,
POLYCHAT_DATA_DIR) override file values in every case.

# Key Types

  - Config: root configuration with Server, Cloud, Storage, and Defaults
    sections
  - ValidationError / ValidateErrors: structured validation failures
  - Watcher: reloads the config when the file changes on disk

# Usage

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	w, err := config.Watch(path, func(next *config.Config) {
		// apply the reloaded config
	})
	if err == nil {
		defer w.Close()
	}
*/
package config
