package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var removeYes bool

var removeCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a stored file and its metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)

	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "skip the confirmation prompt")
}

func runRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	if !store.Exists(name) {
		return fmt.Errorf("no file stored under %q", name)
	}

	if !removeYes {
		fmt.Printf("Remove %q permanently? [y/N] ", name)
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

	if err := store.Delete(name); err != nil {
		return err
	}

	fmt.Printf("Removed %q\n", name)
	return nil
}
