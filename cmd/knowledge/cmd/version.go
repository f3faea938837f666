package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			if verbose {
				fmt.Printf("knowledge version %s\n", version.Version)
				fmt.Printf("  commit: %s\n", version.Commit)
				fmt.Printf("  built:  %s\n", version.Date)
				fmt.Printf("  go:     %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
				return
			}
			fmt.Printf("knowledge version %s\n", version.Version)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show build details")

	return cmd
}
