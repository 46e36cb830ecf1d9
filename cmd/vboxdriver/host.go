package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/vboxdriver/internal/console"
	"github.com/jbweber/vboxdriver/internal/driver"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Show information about this host",
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Show how to reach the remote display of an instance",
}

func init() {
	hostCmd.AddCommand(hostResourcesCmd)
	hostCmd.AddCommand(hostNodesCmd)

	consoleCmd.AddCommand(consoleCommand("vnc", "Show the VNC console of an instance", (*driver.Driver).VNCConsole))
	consoleCmd.AddCommand(consoleCommand("rdp", "Show the RDP console of an instance", (*driver.Driver).RDPConsole))
}

var hostResourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Show the capacity of this host",
	Long: `Show the vCPUs, memory and local disk of this host with their usage,
the processor topology and the VirtualBox version.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		res, err := d.Resources(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get host resources: %w", err)
		}

		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		result, err := formatter.FormatResources(res)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

var hostNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the nodes managed by this driver",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		for _, node := range d.AvailableNodes() {
			fmt.Println(node)
		}
		return nil
	},
}

func consoleCommand(use, short string, get func(*driver.Driver, context.Context, string) (console.Info, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := instanceArg(args[0])
			if err != nil {
				return err
			}
			d, err := newDriver()
			if err != nil {
				return err
			}
			info, err := get(d, cmd.Context(), inst.Name)
			if err != nil {
				return fmt.Errorf("failed to get %s console of %s: %w", use, inst.Name, err)
			}

			formatter, err := newFormatter()
			if err != nil {
				return err
			}
			result, err := formatter.FormatConsole(info)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Print(result)
			return nil
		},
	}
}
