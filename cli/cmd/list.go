package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listVerbose bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored files",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "show stored sizes and metadata state")
}

func runList(cmd *cobra.Command, args []string) error {
	objects, err := store.List()
	if err != nil {
		return err
	}

	if len(objects) == 0 {
		fmt.Println("No files stored.")
		return nil
	}

	if !listVerbose {
		for _, obj := range objects {
			fmt.Println(obj.Name)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTORED BYTES\tORIGINAL BYTES\tCOMPRESSED")
	for _, obj := range objects {
		original := "-"
		compressed := "-"
		if obj.HasMetadata {
			if meta, err := store.Stat(obj.Name); err == nil {
				original = fmt.Sprintf("%d", meta.Size)
				compressed = fmt.Sprintf("%v", meta.Compressed)
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", obj.Name, obj.Size, original, compressed)
	}
	return w.Flush()
}
