package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/javanstorm/vmctl/internal/vm"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printMachines writes one row per machine.
func printMachines(w io.Writer, machines []vm.Machine) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPID\tCPUS\tMEMORY\tPORTS")
	for _, m := range machines {
		pid := "-"
		if p := m.ProcessID(); p > 0 {
			pid = fmt.Sprint(p)
		}
		ports := strings.Join(m.PortForward, ",")
		if ports == "" {
			ports = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(m.ID), m.Name, m.Status, pid, m.CPUs, m.Memory, ports)
	}
	return tw.Flush()
}

// printMachine writes the details of one machine.
func printMachine(w io.Writer, m vm.Machine) {
	fmt.Fprintf(w, "Machine: %s\n", m.Name)
	fmt.Fprintf(w, "  ID:       %s\n", m.ID)
	fmt.Fprintf(w, "  Status:   %s\n", m.Status)
	if pid := m.ProcessID(); pid > 0 {
		fmt.Fprintf(w, "  PID:      %d\n", pid)
	}
	fmt.Fprintf(w, "  CPU:      %s x %d\n", m.CPU, m.CPUs)
	fmt.Fprintf(w, "  Memory:   %s\n", m.Memory)
	if m.Drive != "" {
		fmt.Fprintf(w, "  Drive:    %s (%s, %s)\n", m.Drive, m.DriveFormat, m.DriveSize)
	}
	if m.BootSource != "" {
		fmt.Fprintf(w, "  Boot:     %s\n", m.BootSource)
	}
	if len(m.PortForward) > 0 {
		fmt.Fprintf(w, "  Ports:    %s\n", strings.Join(m.PortForward, ", "))
	}
	if m.LogFile != "" {
		fmt.Fprintf(w, "  Log:      %s\n", m.LogFile)
	}
	fmt.Fprintf(w, "  Created:  %s\n", m.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  Updated:  %s\n", m.UpdatedAt.Local().Format(time.DateTime))
}

// printVolumes writes one row per volume.
func printVolumes(w io.Writer, vols []vm.Volume) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tFORMAT\tON DISK\tMACHINES")
	for _, v := range vols {
		size := "missing"
		if v.Exists {
			size = fmt.Sprintf("%d", v.Bytes)
		}
		format := v.Format
		if format == "" {
			format = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(v.ID), v.Path, format, size, strings.Join(v.Machines, ","))
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
