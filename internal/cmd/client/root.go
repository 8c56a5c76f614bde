package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the evlog client.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "evlog",
		Short: "evlog client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers the client command groups on root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		NewEventsCommand(baseURL),
		NewUsageCommand(baseURL),
		NewParamsCommand(baseURL),
		NewHeepCommand(baseURL),
	)
}
