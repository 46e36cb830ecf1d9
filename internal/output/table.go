package output

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/hostops"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

// TableFormatter formats results as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatInstance formats a single VM as a table row.
func (f *TableFormatter) FormatInstance(info vmutil.Info) (string, error) {
	return f.FormatInstanceList([]vmutil.Info{info})
}

// FormatInstanceList formats VMs as a table.
func (f *TableFormatter) FormatInstanceList(infos []vmutil.Info) (string, error) {
	if len(infos) == 0 {
		return "No instances found\n", nil
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		port := "-"
		if info.VRDEPort > 0 {
			port = strconv.Itoa(info.VRDEPort)
		}
		rows = append(rows, []string{
			info.Name,
			info.State.String(),
			strconv.Itoa(info.CPUs),
			fmt.Sprintf("%d MiB", info.MemoryMB),
			formatNetworks(info.Networks),
			port,
		})
	}
	return f.render([]string{"NAME", "STATE", "VCPUS", "MEMORY", "NETWORKS", "VRDE PORT"}, rows), nil
}

// FormatResources formats the host capacity as key/value rows.
func (f *TableFormatter) FormatResources(res hostops.Resources) (string, error) {
	arches := make([]string, 0, len(res.SupportedInstances))
	for _, si := range res.SupportedInstances {
		arches = append(arches, si.Arch)
	}
	rows := [][]string{
		{"Hostname", res.HypervisorHostname},
		{"Hypervisor", fmt.Sprintf("%s %s", res.HypervisorType, res.HypervisorVersion)},
		{"vCPUs", fmt.Sprintf("%d (%d used)", res.VCPUs, res.VCPUsUsed)},
		{"Memory", fmt.Sprintf("%d MiB (%d MiB used)", res.MemoryMB, res.MemoryMBUsed)},
		{"Local disk", fmt.Sprintf("%d GiB (%d GiB used)", res.LocalGB, res.LocalGBUsed)},
		{"CPU", fmt.Sprintf("%s %s", res.CPUInfo.Arch, res.CPUInfo.Model)},
		{"Topology", fmt.Sprintf("%d sockets, %d cores, %d threads",
			res.CPUInfo.Topology.Sockets, res.CPUInfo.Topology.Cores, res.CPUInfo.Topology.Threads)},
		{"Architectures", strings.Join(arches, ", ")},
	}
	return f.render([]string{"FIELD", "VALUE"}, rows), nil
}

func (f *TableFormatter) FormatConsole(info console.Info) (string, error) {
	path := info.InternalAccessPath
	if path == "" {
		path = "-"
	}
	rows := [][]string{{string(info.Type), info.Host, strconv.Itoa(info.Port), path}}
	return f.render([]string{"TYPE", "HOST", "PORT", "ACCESS PATH"}, rows), nil
}

func (f *TableFormatter) FormatConnector(conn volume.Connector) (string, error) {
	rows := [][]string{{conn.IP, conn.Host, conn.Initiator}}
	return f.render([]string{"IP", "HOST", "INITIATOR"}, rows), nil
}

func (f *TableFormatter) render(headers []string, rows [][]string) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	if !f.NoHeaders {
		table.SetHeader(headers)
	}
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
	return buf.String()
}

// formatNetworks renders adapter to network pairs in adapter order.
func formatNetworks(networks map[string]string) string {
	if len(networks) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(networks))
	for k := range networks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+networks[k])
	}
	return strings.Join(parts, ",")
}
