// Package output provides formatters for displaying driver results in
// various formats (table, YAML, JSON).
package output

import (
	"fmt"

	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/hostops"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats driver results for output.
type Formatter interface {
	// FormatInstance formats the state of a single VM.
	FormatInstance(info vmutil.Info) (string, error)

	// FormatInstanceList formats the state of several VMs.
	FormatInstanceList(infos []vmutil.Info) (string, error)

	FormatResources(res hostops.Resources) (string, error)
	FormatConsole(info console.Info) (string, error)
	FormatConnector(conn volume.Connector) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}

// Instance is the serialized form of vmutil.Info.
type Instance struct {
	Name     string            `json:"name" yaml:"name"`
	State    string            `json:"state" yaml:"state"`
	VMState  string            `json:"vm_state" yaml:"vm_state"`
	MemoryMB int               `json:"memory_mb" yaml:"memory_mb"`
	CPUs     int               `json:"cpus" yaml:"cpus"`
	Networks map[string]string `json:"networks,omitempty" yaml:"networks,omitempty"`
	RootDisk string            `json:"root_disk,omitempty" yaml:"root_disk,omitempty"`
	VRDEPort int               `json:"vrde_port,omitempty" yaml:"vrde_port,omitempty"`
}

// NewInstance converts info to its serialized form.
func NewInstance(info vmutil.Info) Instance {
	return Instance{
		Name:     info.Name,
		State:    info.State.String(),
		VMState:  info.VMState,
		MemoryMB: info.MemoryMB,
		CPUs:     info.CPUs,
		Networks: info.Networks,
		RootDisk: info.RootDisk,
		VRDEPort: info.VRDEPort,
	}
}

func newInstances(infos []vmutil.Info) []Instance {
	out := make([]Instance, 0, len(infos))
	for _, info := range infos {
		out = append(out, NewInstance(info))
	}
	return out
}
