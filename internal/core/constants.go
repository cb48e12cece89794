/*
Package core constants shared by the record model, the candidate generator, the
search coordinator and the crack loop.

These values are the tuning knobs of the brute-force engine. Most of them have a
matching flag or config key; the ones that do not (alphabet, wildcard marker,
buffer capacity) are part of the data contract with the block-list sources.
*/
package core

/*
blockcrack — recovers obfuscated domains from Mastodon instance block lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"time"

	"github.com/x-stp/blockcrack/internal/blocklist"
)

const (
	// --- Data contract ---

	// Alphabet is the set of symbols tried at every wildcard position.
	// Instances obfuscate with '*' over letters and digits. A masked '.' or '-'
	// cannot be recovered with this alphabet; such masks exhaust without a match.
	Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// WildcardMarker is the byte instances substitute for hidden characters.
	WildcardMarker = blocklist.ObfuscationMarker

	// DigestSize is the size of a SHA-256 digest in bytes.
	DigestSize = 32

	// MaxMaskLength is the capacity of the per-worker candidate buffer.
	// 253 is the longest textual DNS name. Longer masks mean upstream data is corrupt.
	MaxMaskLength = 253

	// --- Search ---

	// DefaultMaxCombinations caps the size of a single search (36^6).
	// Masks with a larger space are reported as infeasible instead of searched.
	DefaultMaxCombinations uint64 = 36 * 36 * 36 * 36 * 36 * 36

	// CancelCheckInterval is how many candidates a worker tests between polls
	// of the found flag and the context. Bounds the overrun after a hit.
	CancelCheckInterval = 4096

	// ProgressLogInterval is how often a running search logs its progress.
	ProgressLogInterval = 10 * time.Second

	// --- Scheduler ---

	// WorkerMultiplier scales runtime.NumCPU() into the default worker count.
	// Searching is CPU bound; more workers than cores only adds switching.
	WorkerMultiplier = 1

	// MaxWorkers is the absolute upper limit on scheduler workers.
	MaxWorkers = 2048

	// MaxShardQueueSize is the capacity of a single worker's queue.
	MaxShardQueueSize = 64

	// MaxSubmitRetries is how many times a submission is retried when the
	// target worker's queue is full.
	MaxSubmitRetries = 15

	// SubmitRetryDelay is the pause between submission retries.
	SubmitRetryDelay = 50 * time.Millisecond
)
