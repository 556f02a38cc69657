package vm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Volume is a drive image referenced by one or more machine records. It
// is derived on every call; nothing about it is stored.
type Volume struct {
	// ID is stable for a given absolute path.
	ID     string `json:"id"`
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
	// Size is the size the drive is created with when missing.
	Size string `json:"size,omitempty"`

	Exists     bool       `json:"exists"`
	Bytes      int64      `json:"bytes"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty"`

	// Machines lists the ids of records using the drive.
	Machines []string `json:"machines"`
}

// VolumeID returns the id of the volume at path.
func VolumeID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+path)).String()
}

// ListVolumes returns every drive referenced by a machine record, ordered
// by path.
func (m *Manager) ListVolumes(ctx context.Context) (_ []Volume, err error) {
	ctx, done := m.instrument(ctx, "volumes", "")
	defer func() { done(err) }()

	all, err := m.store.List(ctx, true)
	if err != nil {
		return nil, err
	}
	return volumesOf(all), nil
}

// GetVolume finds a volume by id, falling back to the drive of the
// machine idOrMachine names.
func (m *Manager) GetVolume(ctx context.Context, idOrMachine string) (_ Volume, err error) {
	ctx, done := m.instrument(ctx, "volume", idOrMachine)
	defer func() { done(err) }()

	all, err := m.store.List(ctx, true)
	if err != nil {
		return Volume{}, err
	}
	vols := volumesOf(all)
	for _, v := range vols {
		if v.ID == idOrMachine {
			return v, nil
		}
	}

	rec, err := m.resolve(ctx, idOrMachine)
	if errors.Is(err, ErrVMNotFound) {
		return Volume{}, &VolumeNotFoundError{ID: idOrMachine}
	}
	if err != nil {
		return Volume{}, err
	}
	if rec.Drive != "" {
		id := VolumeID(rec.Drive)
		for _, v := range vols {
			if v.ID == id {
				return v, nil
			}
		}
		// Written between the two reads.
		return volumesOf([]Machine{rec})[0], nil
	}
	return Volume{}, &VolumeNotFoundError{ID: idOrMachine}
}

func volumesOf(machines []Machine) []Volume {
	byID := make(map[string]*Volume)
	for _, rec := range machines {
		if rec.Drive == "" {
			continue
		}
		id := VolumeID(rec.Drive)
		v, ok := byID[id]
		if !ok {
			v = &Volume{ID: id, Path: rec.Drive, Format: rec.DriveFormat, Size: rec.DriveSize}
			byID[id] = v
		}
		v.Machines = append(v.Machines, rec.ID)
	}

	out := make([]Volume, 0, len(byID))
	for _, v := range byID {
		if fi, err := os.Stat(v.Path); err == nil && fi.Mode().IsRegular() {
			mod := fi.ModTime().UTC()
			v.Exists = true
			v.Bytes = fi.Size()
			v.ModifiedAt = &mod
		}
		sort.Strings(v.Machines)
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
