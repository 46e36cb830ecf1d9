package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
	"github.com/spf13/afero"

	"github.com/jbweber/vboxdriver/internal/config"
)

// VolumeID is the label cloud-init looks for.
const VolumeID = "CIDATA"

// GenerateISO creates a NoCloud ISO image for inst.
//
// Returns the ISO image as a byte slice.
func GenerateISO(inst *config.Instance) ([]byte, error) {
	if inst == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}

	userData, err := GenerateUserData(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}
	metaData, err := GenerateMetaData(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}
	networkConfig, err := GenerateNetworkConfig(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	files := []struct {
		name    string
		content string
	}{
		{"user-data", userData},
		{"meta-data", metaData},
		{"network-config", networkConfig},
	}
	for _, f := range files {
		if f.content == "" {
			continue
		}
		if err := writer.AddFile(bytes.NewReader([]byte(f.content)), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeID); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteISO generates the config drive for inst and writes it to path on fs.
func WriteISO(fs afero.Fs, path string, inst *config.Instance) error {
	data, err := GenerateISO(inst)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config drive %s: %w", path, err)
	}
	return nil
}
