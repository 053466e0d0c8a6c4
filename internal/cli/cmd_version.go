package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags, matching the teacher's own
// version-stamping convention.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show flowctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("flowctl version " + version)
		},
	}
}
