package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jbweber/vboxdriver/internal/config"
	"github.com/jbweber/vboxdriver/internal/driver"
	"github.com/jbweber/vboxdriver/internal/status"
	"github.com/jbweber/vboxdriver/internal/vmutil"
)

var (
	keepDisks        bool
	powerOffTimeout  time.Duration
	powerOffInterval time.Duration
	softReboot       bool
)

func init() {
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(powerOnCmd)
	rootCmd.AddCommand(powerOffCmd)
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(snapshotCmd)

	for _, c := range []struct {
		use, short string
		run        func(*driver.Driver, context.Context, string) error
		done       string
	}{
		{"pause", "Pause an instance", (*driver.Driver).Pause, "paused"},
		{"unpause", "Unpause an instance", (*driver.Driver).Unpause, "unpaused"},
		{"suspend", "Save the state of an instance and stop it", (*driver.Driver).Suspend, "suspended"},
		{"resume", "Start a suspended instance", (*driver.Driver).Resume, "resumed"},
	} {
		rootCmd.AddCommand(powerCommand(c.use, c.short, c.run, c.done))
	}

	destroyCmd.Flags().BoolVar(&keepDisks, "keep-disks", false, "keep the instance disks")
	powerOffCmd.Flags().DurationVar(&powerOffTimeout, "timeout", 0, "wait this long for an ACPI shutdown before powering off (0 powers off immediately)")
	powerOffCmd.Flags().DurationVar(&powerOffInterval, "interval", 5*time.Second, "interval between ACPI shutdown requests")
	rebootCmd.Flags().BoolVar(&softReboot, "soft", false, "shut the guest down through ACPI before restarting it")
}

// instanceArg loads an instance document when arg names a YAML file, and
// otherwise treats arg as the instance name.
func instanceArg(arg string) (*config.Instance, error) {
	ext := strings.ToLower(filepath.Ext(arg))
	if ext == ".yaml" || ext == ".yml" {
		return config.LoadInstance(arg)
	}
	if _, err := os.Stat(arg); err == nil {
		return config.LoadInstance(arg)
	}
	return &config.Instance{Name: arg}, nil
}

func powerCommand(use, short string, run func(*driver.Driver, context.Context, string) error, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDriver()
			if err != nil {
				return err
			}
			if err := run(d, cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to %s instance %s: %w", use, args[0], err)
			}
			success("Instance %s %s", args[0], done)
			return nil
		},
	}
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <instance.yaml>",
	Short: "Create and start an instance",
	Long: `Create a VirtualBox VM from an instance document and start it.

The root disk is built from the cached image (as a differencing disk when
use_cow_images is set), volumes from the block device mapping are attached
and the remote display is enabled before the first boot.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := config.LoadInstance(args[0])
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}

		fmt.Printf("Spawning instance %s (%s)\n", inst.Name, inst.UUID)
		if err := d.Spawn(cmd.Context(), inst); err != nil {
			return fmt.Errorf("failed to spawn instance: %w", err)
		}
		success("Instance %s is running", inst.Name)
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Destroy an instance",
	Long: `Destroy a VM by name.

This will:
- Power the VM off if it is running
- Detach its volumes and unregister it
- Delete its disks and instance directory, unless --keep-disks is set`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		if err := d.Destroy(cmd.Context(), args[0], !keepDisks); err != nil {
			return fmt.Errorf("failed to destroy instance: %w", err)
		}
		success("Instance %s destroyed", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	Long: `List every VM registered with VirtualBox.

Shows the name, power state, vCPUs, memory, networks and remote display
port of each VM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		names, err := d.ListInstances(ctx)
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}

		infos := make([]vmutil.Info, 0, len(names))
		for _, name := range names {
			info, err := d.GetInfo(ctx, name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s failed to get info for %s: %v\n", color.YellowString("Warning:"), name, err)
				continue
			}
			infos = append(infos, info)
		}

		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		result, err := formatter.FormatInstanceList(infos)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show the state of an instance",
	Long: `Show the power state, sizing, networks and remote display port of a VM.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML document
  -o json   JSON object`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		info, err := d.GetInfo(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get instance: %w", err)
		}

		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		result, err := formatter.FormatInstance(info)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

var powerOnCmd = &cobra.Command{
	Use:   "power-on <name|instance.yaml>",
	Short: "Start an instance",
	Long: `Enable the remote display of an instance and start it headless.

Pass the instance document to set the VNC password from the instance UUID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := instanceArg(args[0])
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}
		if err := d.PowerOn(cmd.Context(), inst); err != nil {
			return fmt.Errorf("failed to power on instance %s: %w", inst.Name, err)
		}
		success("Instance %s powered on", inst.Name)
		return nil
	},
}

var powerOffCmd = &cobra.Command{
	Use:   "power-off <name>",
	Short: "Stop an instance",
	Long: `Stop a VM and release its remote display port.

With --timeout the guest is asked to shut down through ACPI every
--interval until the timeout passes; the VM is then powered off.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		if err := d.PowerOff(cmd.Context(), args[0], powerOffTimeout, powerOffInterval); err != nil {
			return fmt.Errorf("failed to power off instance %s: %w", args[0], err)
		}
		success("Instance %s powered off", args[0])
		return nil
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot <name>",
	Short: "Restart an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		if err := d.Reboot(cmd.Context(), args[0], softReboot); err != nil {
			return fmt.Errorf("failed to reboot instance %s: %w", args[0], err)
		}
		success("Instance %s rebooted", args[0])
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <name|instance.yaml> <image-id>",
	Short: "Upload the root disk of an instance as an image",
	Long: `Take a live snapshot of a VM, export its root disk chain as a single
disk and upload it to the image store as <image-id>.

Example:
  vboxdriver snapshot vm1 8f2c1e64-3f1a-4b8e-9a57-5d0c2f6b7a10`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := instanceArg(args[0])
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}

		report := func(state, _ status.TaskState) {
			fmt.Printf("  %s %s\n", color.CyanString("→"), state)
		}
		if err := d.Snapshot(cmd.Context(), inst.Name, args[1], report); err != nil {
			return fmt.Errorf("failed to snapshot instance %s: %w", inst.Name, err)
		}
		success("Image %s uploaded", args[1])
		return nil
	},
}
