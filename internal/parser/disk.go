package parser

import (
	"fmt"
	"strings"

	"github.com/jbweber/vboxdriver/internal/logger"
)

// DiskStateInaccessible is reported for registered disks whose file is
// missing or unreadable.
const DiskStateInaccessible = "inaccessible"

// baseParent is the "Parent UUID" value of a disk with no parent.
const baseParent = "base"

// DiskRecord is one virtual hard disk as reported by "showhdinfo" or
// "list hdds".
type DiskRecord struct {
	UUID string
	// ParentUUID is empty for base images.
	ParentUUID string
	State      string
	Type       string
	Path       string
	Format     string
	Variant    string
	// Capacity and SizeOnDisk are in bytes.
	Capacity   int64
	SizeOnDisk int64
	UsedBy     string
	ChildUUIDs []string
	AutoReset  string
}

// IsBase reports whether the disk has no parent.
func (d DiskRecord) IsBase() bool {
	return d.ParentUUID == ""
}

// diskField decodes the value of one recognized label into a DiskRecord.
type diskField func(d *DiskRecord, value string) error

func setString(dst func(*DiskRecord) *string) diskField {
	return func(d *DiskRecord, value string) error {
		*dst(d) = value
		return nil
	}
}

func setSize(dst func(*DiskRecord) *int64) diskField {
	return func(d *DiskRecord, value string) error {
		size, err := PredictSize(strings.Replace(value, "Bytes", "", 1))
		if err != nil {
			return err
		}
		*dst(d) = size
		return nil
	}
}

// DiskFields maps every label VBoxManage prints for a disk to its decoder.
// Labels absent from this table are ignored.
var DiskFields = map[string]diskField{
	"UUID": setString(func(d *DiskRecord) *string { return &d.UUID }),
	"Parent UUID": func(d *DiskRecord, value string) error {
		if value == baseParent {
			value = ""
		}
		d.ParentUUID = value
		return nil
	},
	"State":          setString(func(d *DiskRecord) *string { return &d.State }),
	"Type":           setString(func(d *DiskRecord) *string { return &d.Type }),
	"Location":       setString(func(d *DiskRecord) *string { return &d.Path }),
	"Storage format": setString(func(d *DiskRecord) *string { return &d.Format }),
	"Format variant": setString(func(d *DiskRecord) *string { return &d.Variant }),
	"Capacity":       setSize(func(d *DiskRecord) *int64 { return &d.Capacity }),
	"Size on disk":   setSize(func(d *DiskRecord) *int64 { return &d.SizeOnDisk }),
	"In use by VMs":  setString(func(d *DiskRecord) *string { return &d.UsedBy }),
	"Child UUIDs": func(d *DiskRecord, value string) error {
		if value != "" {
			d.ChildUUIDs = append(d.ChildUUIDs, value)
		}
		return nil
	},
	"Auto-Reset": setString(func(d *DiskRecord) *string { return &d.AutoReset }),
}

// applyDiskLine decodes one line into d. It returns false when the line is
// not a "Label: value" pair.
func applyDiskLine(d *DiskRecord, line string) (bool, error) {
	label, value, found := strings.Cut(line, ":")
	if !found {
		return false, nil
	}

	label = strings.TrimSpace(label)
	decode, ok := DiskFields[label]
	if !ok {
		logger.Get().Debugf("Unexpected key %q for vhd", label)
		return true, nil
	}

	if err := decode(d, strings.TrimSpace(value)); err != nil {
		return true, fmt.Errorf("invalid %s: %w", label, err)
	}
	return true, nil
}

// ParseDiskInfo parses the output of "showhdinfo" for a single disk. Lines
// that are not "Label: value" pairs continue the child UUID list.
func ParseDiskInfo(output string) (DiskRecord, error) {
	var d DiskRecord
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		isPair, err := applyDiskLine(&d, line)
		if err != nil {
			return DiskRecord{}, err
		}
		if !isPair {
			d.ChildUUIDs = append(d.ChildUUIDs, trimmed)
		}
	}
	return d, nil
}

// ParseDiskList parses the blank-line separated records of "list hdds",
// keyed by UUID. Records without a UUID are dropped.
func ParseDiskList(output string) (map[string]DiskRecord, error) {
	disks := make(map[string]DiskRecord)

	var current DiskRecord
	flush := func() {
		if current.UUID != "" {
			disks[current.UUID] = current
		}
		current = DiskRecord{}
	}

	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		isPair, err := applyDiskLine(&current, line)
		if err != nil {
			return nil, err
		}
		if !isPair {
			logger.Get().Debugf("Skipping unexpected disk list line %q", line)
		}
	}
	flush()

	return disks, nil
}
