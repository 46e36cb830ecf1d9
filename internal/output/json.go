package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/hostops"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

// JSONFormatter formats results as JSON.
type JSONFormatter struct{}

// FormatInstance formats a single VM as a JSON object.
func (f *JSONFormatter) FormatInstance(info vmutil.Info) (string, error) {
	return marshalJSON("instance", NewInstance(info))
}

// FormatInstanceList formats VMs as a JSON array.
func (f *JSONFormatter) FormatInstanceList(infos []vmutil.Info) (string, error) {
	if len(infos) == 0 {
		return "[]\n", nil
	}
	return marshalJSON("instances", newInstances(infos))
}

func (f *JSONFormatter) FormatResources(res hostops.Resources) (string, error) {
	return marshalJSON("resources", res)
}

func (f *JSONFormatter) FormatConsole(info console.Info) (string, error) {
	return marshalJSON("console", info)
}

func (f *JSONFormatter) FormatConnector(conn volume.Connector) (string, error) {
	return marshalJSON("connector", conn)
}

func marshalJSON(what string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
