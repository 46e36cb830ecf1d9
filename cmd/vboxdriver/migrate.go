package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/vboxdriver/internal/config"
)

var (
	migrateFlavor   string
	migrateDest     string
	migrateTimeout  time.Duration
	migrateInterval time.Duration
	finishResize    bool
	noPowerOn       bool
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(finishMigrationCmd)
	rootCmd.AddCommand(revertMigrationCmd)
	rootCmd.AddCommand(confirmMigrationCmd)

	migrateCmd.Flags().StringVar(&migrateFlavor, "flavor", "", "flavor document to resize to")
	migrateCmd.Flags().StringVar(&migrateDest, "dest", "", "address of the destination host")
	migrateCmd.Flags().DurationVar(&migrateTimeout, "timeout", 0, "wait this long for an ACPI shutdown before powering off")
	migrateCmd.Flags().DurationVar(&migrateInterval, "interval", 5*time.Second, "interval between ACPI shutdown requests")
	_ = migrateCmd.MarkFlagRequired("flavor")
	_ = migrateCmd.MarkFlagRequired("dest")

	finishMigrationCmd.Flags().BoolVar(&finishResize, "resize", false, "grow the root disk to the flavor size")
	finishMigrationCmd.Flags().BoolVar(&noPowerOn, "no-power-on", false, "leave the instance powered off")
	revertMigrationCmd.Flags().BoolVar(&noPowerOn, "no-power-on", false, "leave the instance powered off")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <instance.yaml>",
	Short: "Power an instance off and move its disks aside for a resize",
	Long: `Power off an instance and move its disks into a new instance directory
sized for the given flavor. The previous directory is kept until the
migration is confirmed or reverted.

Only migrations that stay on this host are supported.

Example:
  vboxdriver migrate vm1.yaml --flavor m1.large.yaml --dest 10.0.0.2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := config.LoadInstance(args[0])
		if err != nil {
			return err
		}
		flavor, err := config.LoadFlavor(migrateFlavor)
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}

		if err := d.MigrateDiskAndPowerOff(cmd.Context(), inst, migrateDest, flavor, migrateTimeout, migrateInterval); err != nil {
			return fmt.Errorf("failed to migrate instance %s: %w", inst.Name, err)
		}
		success("Disks of %s moved for %d vCPUs, %d MiB, %d GiB root", inst.Name, flavor.VCPUs, flavor.MemoryMB, flavor.RootGB)
		return nil
	},
}

var finishMigrationCmd = &cobra.Command{
	Use:   "finish-migration <instance.yaml>",
	Short: "Recreate a migrated instance from its moved disks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := config.LoadInstance(args[0])
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}

		if err := d.FinishMigration(cmd.Context(), inst, finishResize, !noPowerOn); err != nil {
			return fmt.Errorf("failed to finish migration of %s: %w", inst.Name, err)
		}
		success("Migration of %s finished", inst.Name)
		return nil
	},
}

var revertMigrationCmd = &cobra.Command{
	Use:   "revert-migration <instance.yaml>",
	Short: "Destroy a migrated instance and restore it from the kept disks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := config.LoadInstance(args[0])
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}

		if err := d.RevertMigration(cmd.Context(), inst, !noPowerOn); err != nil {
			return fmt.Errorf("failed to revert migration of %s: %w", inst.Name, err)
		}
		success("Migration of %s reverted", inst.Name)
		return nil
	},
}

var confirmMigrationCmd = &cobra.Command{
	Use:   "confirm-migration <instance.yaml>",
	Short: "Delete the disks kept for reverting a migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := config.LoadInstance(args[0])
		if err != nil {
			return err
		}
		d, err := newDriver()
		if err != nil {
			return err
		}

		if err := d.ConfirmMigration(cmd.Context(), inst); err != nil {
			return fmt.Errorf("failed to confirm migration of %s: %w", inst.Name, err)
		}
		success("Migration of %s confirmed", inst.Name)
		return nil
	},
}
