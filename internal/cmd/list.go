package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list [binaries...]",
	Short: "List tests discovered in the given test binaries",
	Long: `List every test case exported by the given test binaries, after
applying any -E/--filter expressions, one per line.`,
	Args: cobra.MinimumNArgs(1),
	RunE: listTests,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func listTests(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	list, err := discoverList(ctx, args)
	if err != nil {
		return err
	}

	for _, inst := range list.Instances {
		suffix := ""
		if inst.Ignored {
			suffix = " (ignored)"
		}
		fmt.Fprintf(os.Stdout, "%s::%s%s\n", inst.Binary.BinaryName, inst.TestName, suffix)
	}
	return nil
}
