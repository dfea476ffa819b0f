package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/absfs/securefs"
)

var (
	initKeyPath    string
	initStorageDir string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new encrypted store",
	Long: `Create the storage directory, generate a fresh encryption key, and write
the configuration file. Refuses to overwrite an existing configuration or
key file.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initKeyPath, "key-path", securefs.DefaultKeyPath, "where to create the key file")
	initCmd.Flags().StringVar(&initStorageDir, "storage-dir", securefs.DefaultStorageDir, "where to store encrypted objects")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists; remove it first to reinitialize", path)
	}
	if _, err := os.Stat(initKeyPath); err == nil {
		return fmt.Errorf("key file %s already exists; refusing to overwrite it", initKeyPath)
	}

	cfg := &securefs.Config{
		KeyPath:    initKeyPath,
		StorageDir: initStorageDir,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ks, err := securefs.OpenKeyStore(securefs.NewOSFS(), cfg.KeyPath)
	if err != nil {
		return err
	}
	defer ks.Close()

	if _, err := securefs.NewStore(securefs.NewOSFS(), cfg.StorageDir, ks, nil); err != nil {
		return err
	}

	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Printf("Initialized encrypted store\n")
	fmt.Printf("  config:  %s\n", path)
	fmt.Printf("  key:     %s\n", cfg.KeyPath)
	fmt.Printf("  storage: %s\n", cfg.StorageDir)
	fmt.Println()
	fmt.Println("Back up the key file somewhere safe. Without it, nothing in the")
	fmt.Println("storage directory can ever be decrypted.")

	return nil
}
