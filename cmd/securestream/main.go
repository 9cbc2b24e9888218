// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "securestream",
	Short: "securestream CLI - session protocol node and key management",
	Long: `securestream provides a process entrypoint for the live-video-streaming
session protocol: handshake bootstrap, steady-state AEAD framing, in-band
rekey, group-key distribution, and single-hop relay.

This tool supports:
- RSA identity key generation and storage (for the key-transport mechanism)
- Running as a listener or initiator over a single pairwise session
- Running a group leader or group member over the group-key protocol
- Running a single-hop relay between two independently-keyed sessions`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeForErr(err))
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Note: commands are registered in their respective files
	// - keygen.go: keygenCmd
	// - listen.go: listenCmd
	// - dial.go: dialCmd
	// - group-leader.go: groupLeaderCmd
	// - group-member.go: groupMemberCmd
	// - relay.go: relayCmd
}
