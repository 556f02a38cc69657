package vm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name  string
		p     Params
		field string
	}{
		{"empty", Params{}, ""},
		{"all valid", Params{CPUs: Ptr(4), Memory: Ptr("512M"), PortForward: []string{"8080:80"}}, ""},
		{"zero cpus", Params{CPUs: Ptr(0)}, "cpus"},
		{"memory 3X", Params{Memory: Ptr("3X")}, "memory"},
		{"memory no unit", Params{Memory: Ptr("2048")}, "memory"},
		{"bad port forward", Params{PortForward: []string{"8080:80", "ssh"}}, "portForward"},
		{"port out of range", Params{PortForward: []string{"0:22"}}, "portForward"},
		{"blank cpu", Params{CPU: Ptr(" ")}, "cpu"},
		{"bad drive size", Params{DriveSize: Ptr("huge")}, "driveSize"},
		{"blank drive format", Params{DriveFormat: Ptr("")}, "driveFormat"},
		{"bad name", Params{Name: Ptr("a/b")}, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestParamsApplyKeepsOmittedFields(t *testing.T) {
	rec := Machine{ID: "vm1", CPU: "host", CPUs: 4, Memory: "4G", PortForward: []string{"2222:22"}, Drive: "/d.raw"}

	got := Params{Memory: Ptr("8G")}.apply(rec)
	assert.Equal(t, "8G", got.Memory)
	assert.Equal(t, 4, got.CPUs)
	assert.Equal(t, []string{"2222:22"}, got.PortForward)
	assert.Equal(t, "/d.raw", got.Drive)

	// An explicit empty list clears forwards; nil keeps them.
	cleared := Params{PortForward: []string{}}.apply(rec)
	assert.Empty(t, cleared.PortForward)
	assert.Equal(t, []string{"2222:22"}, rec.PortForward, "apply must not alias the original")
}

func TestParamsJSON(t *testing.T) {
	var p Params
	require.NoError(t, json.Unmarshal([]byte(`{"memory":"4G","cpus":4,"portForward":["8080:80","2222:22"]}`), &p))

	require.NotNil(t, p.Memory)
	assert.Equal(t, "4G", *p.Memory)
	require.NotNil(t, p.CPUs)
	assert.Equal(t, 4, *p.CPUs)
	assert.Nil(t, p.CPU)
	assert.Equal(t, []string{"8080:80", "2222:22"}, p.PortForward)
}

func TestAsValidationError(t *testing.T) {
	err := asValidationError(hypervisor.ErrNoBootMedia)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "drive", ve.Field)
	assert.ErrorIs(t, err, hypervisor.ErrNoBootMedia)

	driveErr := &hypervisor.DriveError{Path: "/x"}
	assert.Same(t, driveErr, asValidationError(driveErr))
	assert.Nil(t, asValidationError(nil))
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"vm1", "a", "web-01", "x.y_z", "6f1c2b9e-7a4d-4c1e-9f0a-1b2c3d4e5f60"} {
		assert.True(t, ValidID(id), id)
	}
	for _, id := range []string{"", ".hidden", "-x", "a/b", "../up", "with space"} {
		assert.False(t, ValidID(id), id)
	}
}

func TestMachineJSONPIDNull(t *testing.T) {
	data, err := json.Marshal(Machine{ID: "vm1", Status: StatusStopped})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pid":null`)

	var m Machine
	m.markRunning(12, time.Time{}, "/l", time.Now())
	data, err = json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pid":12`)
	assert.NotContains(t, string(data), "processStart")
}
