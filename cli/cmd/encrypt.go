package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/absfs/securefs"
)

var (
	encryptName     string
	encryptCompress bool
	encryptStream   bool
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt INPUT",
	Short: "Encrypt a file into the store",
	Long: `Seal a file's content under its name (or the name given with --output)
and store the ciphertext. Use --stream for files larger than memory; the
streaming layout processes the input in 64 KiB chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: runEncrypt,
}

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringVarP(&encryptName, "output", "o", "", "logical name to store under (default: input basename)")
	encryptCmd.Flags().BoolVarP(&encryptCompress, "compress", "c", false, "compress before encrypting")
	encryptCmd.Flags().BoolVarP(&encryptStream, "stream", "s", false, "use the chunked streaming layout")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	input := args[0]
	name := encryptName
	if name == "" {
		name = filepath.Base(input)
	}

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", input, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", input, err)
	}

	var n int64
	if encryptStream {
		bar := progressbar.DefaultBytes(info.Size(), "encrypting")
		n, err = store.WriteStream(name, io.TeeReader(f, bar), encryptCompress)
		bar.Finish()
		if err != nil {
			return err
		}
	} else {
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", input, err)
		}
		n, err = store.Write(name, data, securefs.WriteOptions{Compress: encryptCompress})
		if err != nil {
			return err
		}
	}

	fmt.Printf("Stored %s (%d bytes) as %q\n", input, n, name)
	return nil
}
