// Package testutil provides common test helpers for vmctl tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteScript writes an executable /bin/sh script named name into a fresh
// temporary directory and returns its path.
func WriteScript(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", path, err)
	}
	return path
}

// FakeHypervisor returns a stand-in for qemu-system-* that prints its
// arguments and then sleeps until signalled.
func FakeHypervisor(t *testing.T) string {
	t.Helper()
	return WriteScript(t, "qemu-system-x86_64", `echo "qemu $@"
exec sleep 300`)
}

// StubbornHypervisor returns a stand-in that ignores SIGTERM, so only
// SIGKILL stops it.
func StubbornHypervisor(t *testing.T) string {
	t.Helper()
	return WriteScript(t, "qemu-stubborn", `trap '' TERM
echo ready
while :; do sleep 1; done`)
}

// FakeQemuImg returns a stand-in for qemu-img that creates the file named by
// its fourth argument ("create -f FORMAT PATH SIZE").
func FakeQemuImg(t *testing.T) string {
	t.Helper()
	return WriteScript(t, "qemu-img", `: > "$4"`)
}

// FailingQemuImg returns a stand-in for qemu-img that always fails.
func FailingQemuImg(t *testing.T) string {
	t.Helper()
	return WriteScript(t, "qemu-img", `echo "qemu-img: unsupported format" >&2
exit 1`)
}

// CreateTestDisk creates a sparse disk file at the given path with the specified size.
// The file is created as a sparse file, so it doesn't actually allocate all the space.
func CreateTestDisk(t *testing.T, path string, sizeMB int64) {
	t.Helper()

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test disk at %s: %v", path, err)
	}
	defer f.Close()

	sizeBytes := sizeMB * 1024 * 1024
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("failed to truncate test disk to %d bytes: %v", sizeBytes, err)
	}
}

// WriteJSON marshals v into path, creating parent directories.
func WriteJSON(t *testing.T, path string, v any) {
	t.Helper()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal %T: %v", v, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// WaitFor polls cond every 10ms until it returns true or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
