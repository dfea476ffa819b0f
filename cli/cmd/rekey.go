package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/absfs/securefs"
)

var (
	rekeyNewKeyPath string
	rekeyWorkers    int
	rekeyDryRun     bool
	rekeyYes        bool
)

var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Re-encrypt every stored file under a new key",
	Long: `Generate (or load) the key at --new-key and re-encrypt every stored
object under it, preserving each object's layout and compression. Keep the
old key file until the rotation reports success; afterwards, update the
configuration to point at the new key.`,
	RunE: runRekey,
}

func init() {
	rootCmd.AddCommand(rekeyCmd)

	rekeyCmd.Flags().StringVar(&rekeyNewKeyPath, "new-key", "", "path of the new key file (created if absent)")
	rekeyCmd.Flags().IntVar(&rekeyWorkers, "workers", 0, "concurrent re-encryption workers (default: CPU count)")
	rekeyCmd.Flags().BoolVar(&rekeyDryRun, "dry-run", false, "verify every object decrypts; write nothing")
	rekeyCmd.Flags().BoolVarP(&rekeyYes, "yes", "y", false, "skip the confirmation prompt")
	rekeyCmd.MarkFlagRequired("new-key")
}

func runRekey(cmd *cobra.Command, args []string) error {
	if rekeyNewKeyPath == cfg.KeyPath {
		return fmt.Errorf("--new-key must differ from the current key path %s", cfg.KeyPath)
	}

	if !rekeyYes && !rekeyDryRun {
		fmt.Printf("Re-encrypt every object in %s under %s? [y/N] ", cfg.StorageDir, rekeyNewKeyPath)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	newKeys, err := securefs.OpenKeyStore(securefs.NewOSFS(), rekeyNewKeyPath)
	if err != nil {
		return err
	}
	defer newKeys.Close()

	report, err := store.Rekey(newKeys, &securefs.RekeyOptions{
		Workers: rekeyWorkers,
		DryRun:  rekeyDryRun,
	})
	if err != nil {
		return err
	}

	if rekeyDryRun {
		fmt.Printf("Dry run: %d objects (%d bytes) verified under the current key\n", report.Objects, report.Bytes)
		return nil
	}

	fmt.Printf("Rotated %d objects (%d bytes) onto %s\n", report.Objects, report.Bytes, rekeyNewKeyPath)
	fmt.Println()
	fmt.Printf("Update the configuration to use the new key, then retire the old one:\n")
	fmt.Printf("  key_path: %s\n", rekeyNewKeyPath)

	return nil
}
