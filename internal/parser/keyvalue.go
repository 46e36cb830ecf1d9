// Package parser turns the line-oriented text printed by VBoxManage into
// structured values.
//
// The tool has no formal output schema, so every parser follows the same
// policy: recognized lines are decoded, unrecognized lines are logged at
// debug level and skipped.
package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jbweber/vboxdriver/internal/logger"
)

// noneValue is printed by VBoxManage for unset properties.
const noneValue = "none"

// VMInfo is the output of "showvminfo --machinereadable". Keys printed with
// the value "none" are kept with an empty value so that empty controller
// slots remain visible.
type VMInfo map[string]string

// Get returns the value stored under key and whether it is set.
func (i VMInfo) Get(key string) (string, bool) {
	v, ok := i[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Has reports whether key was printed at all, even as "none".
func (i VMInfo) Has(key string) bool {
	_, ok := i[key]
	return ok
}

// ParseVMInfo parses "key"="value" lines.
func ParseVMInfo(output string) VMInfo {
	info := make(VMInfo)
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := splitPair(line, "=")
		if !ok {
			if strings.TrimSpace(line) != "" {
				logger.Get().Debugf("Skipping unexpected vm info line %q", line)
			}
			continue
		}
		info[key] = value
	}
	return info
}

// splitPair splits line on the first sep and strips quotes and spaces from
// both sides. A "none" value becomes the empty string.
func splitPair(line, sep string) (string, string, bool) {
	key, value, found := strings.Cut(line, sep)
	if !found {
		return "", "", false
	}
	key = strings.Trim(key, ` "`)
	value = strings.Trim(value, ` "`)
	if key == "" {
		return "", "", false
	}
	if value == noneValue {
		value = ""
	}
	return key, value, true
}

// HostInfo is the subset of "list hostinfo" the driver reads.
type HostInfo struct {
	ProcessorCount     int
	ProcessorCoreCount int
	MemorySizeMB       int
	MemoryAvailableMB  int
	ProcessorModel     string
}

// ParseHostInfo parses "Key: value" lines from "list hostinfo". Numbers
// that cannot be read are reported as zero.
func ParseHostInfo(output string) HostInfo {
	var host HostInfo
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := splitPair(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "Processor count":
			host.ProcessorCount = atoiOrZero(value)
		case "Processor core count":
			host.ProcessorCoreCount = atoiOrZero(value)
		case "Memory size":
			host.MemorySizeMB = atoiOrZero(firstField(value))
		case "Memory available":
			host.MemoryAvailableMB = atoiOrZero(firstField(value))
		case "Processor#0 description":
			host.ProcessorModel = value
		}
	}
	return host
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// ParseOSTypes returns the identifiers of "list ostypes".
func ParseOSTypes(output string) []string {
	var ids []string
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := splitPair(line, ":")
		if !ok || key != "ID" {
			continue
		}
		ids = append(ids, value)
	}
	return ids
}

// VMEntry is one line of "list vms".
type VMEntry struct {
	Name string
	UUID string
}

// InaccessibleName is reported by "list vms" for machines whose settings
// file cannot be read.
const InaccessibleName = "<inaccessible>"

var vmListLine = regexp.MustCompile(`^"(.*)"\s+\{([0-9a-fA-F-]+)\}$`)

// ParseVMList parses `"name" {uuid}` lines.
func ParseVMList(output string) []VMEntry {
	var vms []VMEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := vmListLine.FindStringSubmatch(line)
		if m == nil {
			logger.Get().Debugf("Skipping unexpected vm list line %q", line)
			continue
		}
		vms = append(vms, VMEntry{Name: m[1], UUID: m[2]})
	}
	return vms
}

var extPackLine = regexp.MustCompile(`^Pack no\. \d+:\s+(.+)$`)

// ParseExtPacks returns the names printed by "list extpacks".
func ParseExtPacks(output string) []string {
	var packs []string
	for _, line := range strings.Split(output, "\n") {
		if m := extPackLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			packs = append(packs, strings.TrimSpace(m[1]))
		}
	}
	return packs
}

// ParseCreatedUUID returns the identifier printed by createvm and createhd,
// for example "Medium created. UUID: 6917a94b-...".
func ParseCreatedUUID(output string) string {
	for _, line := range strings.Split(output, "\n") {
		_, value, found := strings.Cut(line, "UUID:")
		if found {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// SortedKeys returns the keys of info in lexical order.
func (i VMInfo) SortedKeys() []string {
	keys := make([]string, 0, len(i))
	for k := range i {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
