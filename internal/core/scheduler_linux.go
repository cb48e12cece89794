//go:build linux

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

package core

import (
	"log"
	"runtime"

	"golang.org/x/sys/unix"
)

const affinityMode = "CPU affinity enabled"

// setAffinity binds the calling goroutine's OS thread to one CPU core so a
// search worker keeps its hash state in that core's cache.
// Best effort: failure is logged and the worker runs unpinned.
func setAffinity(workerID, cpuID int) {
	// The worker goroutine lives as long as the scheduler, so the thread is
	// never unlocked.
	runtime.LockOSThread()

	var cpuSet unix.CPUSet
	cpuSet.Zero()
	cpuSet.Set(cpuID)

	tid := unix.Gettid()
	if err := unix.SchedSetaffinity(tid, &cpuSet); err != nil {
		log.Printf("Warning: Failed to set CPU affinity for worker %d on core %d (tid: %d): %v", workerID, cpuID, tid, err)
	}
}
