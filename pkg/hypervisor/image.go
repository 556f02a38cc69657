package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// QemuImg creates drive images. Raw images are created as sparse files
// directly; other formats go through qemu-img.
type QemuImg struct {
	// Binary is the qemu-img executable.
	Binary string
}

// NewQemuImg returns an imager using binary, or qemu-img from PATH when empty.
func NewQemuImg(binary string) *QemuImg {
	if binary == "" {
		binary = DefaultImgBinary
	}
	return &QemuImg{Binary: binary}
}

// EnsureDrive creates the image at path if it doesn't exist.
func (q *QemuImg) EnsureDrive(ctx context.Context, path, format, size string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // Already exists
	} else if !errors.Is(err, os.ErrNotExist) {
		return &DriveError{Path: path, Err: err}
	}

	if format == "" {
		format = DefaultDriveFormat
	}
	if size == "" {
		size = DefaultDriveSize
	}
	if !ValidDriveSize(size) {
		return &DriveError{Path: path, Err: ErrInvalidDriveSize}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &DriveError{Path: path, Err: fmt.Errorf("create drive dir: %w", err)}
	}

	if format == "raw" {
		if err := createSparseImage(path, size); err != nil {
			return &DriveError{Path: path, Err: err}
		}
		return nil
	}

	out, err := exec.CommandContext(ctx, q.Binary, "create", "-f", format, path, size).CombinedOutput()
	if err != nil {
		return &DriveError{Path: path, Output: string(out), Err: err}
	}
	return nil
}

func createSparseImage(path, size string) error {
	n, err := parseSize(size)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	// Truncate creates a sparse file on Linux/macOS
	if err := f.Truncate(n); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// parseSize converts "20G"-style sizes to bytes. A bare number is bytes.
// Sizes that do not fit in an int64 are invalid.
func parseSize(s string) (int64, error) {
	if !driveSizePattern.MatchString(s) {
		return 0, ErrInvalidDriveSize
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1 << 10
	case 'M':
		mult = 1 << 20
	case 'G':
		mult = 1 << 30
	case 'T':
		mult = 1 << 40
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDriveSize, err)
	}
	if n > math.MaxInt64/mult {
		return 0, ErrInvalidDriveSize
	}
	return n * mult, nil
}
