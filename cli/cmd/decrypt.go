package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	decryptOutput string
	decryptStream bool
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt NAME",
	Short: "Decrypt a stored file",
	Long: `Recover the plaintext stored under NAME. Output goes to the path given
with --output, or to stdout. Works on both storage layouts; --stream avoids
buffering the whole file and requires --output.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecrypt,
}

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "", "write plaintext to this path instead of stdout")
	decryptCmd.Flags().BoolVarP(&decryptStream, "stream", "s", false, "stream chunk by chunk (requires --output)")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	name := args[0]

	if decryptStream {
		if decryptOutput == "" {
			return fmt.Errorf("--stream requires --output")
		}

		out, err := os.OpenFile(decryptOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", decryptOutput, err)
		}

		bar := progressbar.DefaultBytes(-1, "decrypting")
		n, compressed, err := store.ReadStream(name, progressWriter{out, bar})
		bar.Finish()
		if err != nil {
			out.Close()
			// Output already written is unauthenticated; do not leave it behind
			os.Remove(decryptOutput)
			return err
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", decryptOutput, err)
		}

		fmt.Printf("Recovered %q to %s (%d bytes, compressed=%v)\n", name, decryptOutput, n, compressed)
		return nil
	}

	data, err := store.Read(name)
	if err != nil {
		return err
	}

	if decryptOutput == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	if err := os.WriteFile(decryptOutput, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", decryptOutput, err)
	}
	fmt.Printf("Recovered %q to %s (%d bytes)\n", name, decryptOutput, len(data))
	return nil
}

// progressWriter mirrors everything written to the destination onto the
// progress bar
type progressWriter struct {
	dst *os.File
	bar *progressbar.ProgressBar
}

func (w progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.bar.Add(n)
	return n, err
}
