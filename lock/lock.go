// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package lock implements the process-wide advisory lock for the synchronizer: a single
// operating-system process runs one mutating command at a time, coordinated through a lock file
// on disk so that a CLI invocation (or a webhook listener enqueuing onto the same region) can
// never overlap a concurrent mutator.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mozilla/wptsync/upstreamsync"
)

// Domain is the lock namespace used for the upstream synchronizer; the downstream and landing
// peers coordinate through the same name.
const Domain = "upstream"

// File is an on-disk advisory lock acquired with an exclusive create, released by removing the
// file. It is not safe across machines or filesystems that don't support atomic O_EXCL creates
// (e.g. some network filesystems); a single mutating process at a time is assumed.
type File struct {
	path string
}

// Acquire creates the lock file under root for domain, retrying every 100ms until it succeeds
// or the timeout elapses. Returns the acquired upstreamsync.Lock mutation-capability gate
// alongside the file handle so callers can release both together.
func Acquire(root, domain string, timeout time.Duration) (*File, *upstreamsync.Lock, error) {
	path := filepath.Join(root, "."+domain+".lock")
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return &File{path: path}, upstreamsync.Acquire(), nil
		}
		if !os.IsExist(err) {
			return nil, nil, fmt.Errorf("acquiring lock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			return nil, nil, fmt.Errorf("timed out waiting for lock %s held by another process", path)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Release removes the lock file. Call after releasing the associated upstreamsync.Lock.
func (f *File) Release() error {
	return os.Remove(f.path)
}
