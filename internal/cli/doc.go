// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the gemgram command line interface.
//
// Commands:
//   - run: start the bot (long polling) until SIGINT/SIGTERM
//   - version: print build information
package cli
