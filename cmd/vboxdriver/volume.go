package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/vboxdriver/internal/config"
)

// Volume management commands
var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage iSCSI volumes",
	Long: `Attach and detach iSCSI volumes described by block device mapping
documents, and show how block storage should address this host.`,
}

func init() {
	volumeCmd.AddCommand(volumeAttachCmd)
	volumeCmd.AddCommand(volumeDetachCmd)
	volumeCmd.AddCommand(volumeConnectorCmd)
}

var volumeAttachCmd = &cobra.Command{
	Use:   "attach <name> <volume.yaml>",
	Short: "Attach an iSCSI volume to an instance",
	Long: `Attach the iSCSI target described by a block device mapping document
to the SATA controller of an instance, at the port derived from its mount
device.

Example:
  vboxdriver volume attach vm1 vol-data.yaml`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := instanceArg(args[0])
		if err != nil {
			return err
		}
		mapping, err := config.LoadVolume(args[1])
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}

		if err := d.AttachVolume(cmd.Context(), inst.Name, mapping.ConnectionInfo); err != nil {
			return fmt.Errorf("failed to attach volume: %w", err)
		}
		success("Volume %s attached to %s", mapping.ConnectionInfo.Data.TargetIQN, inst.Name)
		return nil
	},
}

var volumeDetachCmd = &cobra.Command{
	Use:   "detach <name> <volume.yaml>",
	Short: "Detach an iSCSI volume from an instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := instanceArg(args[0])
		if err != nil {
			return err
		}
		mapping, err := config.LoadVolume(args[1])
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}

		if err := d.DetachVolume(cmd.Context(), inst.Name, mapping.ConnectionInfo); err != nil {
			return fmt.Errorf("failed to detach volume: %w", err)
		}
		success("Volume %s detached from %s", mapping.ConnectionInfo.Data.TargetIQN, inst.Name)
		return nil
	},
}

var volumeConnectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Show the iSCSI connector of this host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		result, err := formatter.FormatConnector(d.VolumeConnector())
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}
