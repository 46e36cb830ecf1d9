package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/hostops"
	"github.com/jbweber/vboxdriver/internal/vmutil"
	"github.com/jbweber/vboxdriver/internal/volume"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatInstance formats a single VM as YAML.
func (f *YAMLFormatter) FormatInstance(info vmutil.Info) (string, error) {
	return marshalYAML("instance", NewInstance(info))
}

// FormatInstanceList formats VMs as a YAML stream (multiple documents
// separated by ---).
func (f *YAMLFormatter) FormatInstanceList(infos []vmutil.Info) (string, error) {
	if len(infos) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	for i, inst := range newInstances(infos) {
		data, err := yaml.Marshal(inst)
		if err != nil {
			return "", fmt.Errorf("failed to marshal instance %s to YAML: %w", inst.Name, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}

func (f *YAMLFormatter) FormatResources(res hostops.Resources) (string, error) {
	return marshalYAML("resources", res)
}

func (f *YAMLFormatter) FormatConsole(info console.Info) (string, error) {
	return marshalYAML("console", info)
}

func (f *YAMLFormatter) FormatConnector(conn volume.Connector) (string, error) {
	return marshalYAML("connector", conn)
}

func marshalYAML(what string, v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to YAML: %w", what, err)
	}
	return string(data), nil
}
