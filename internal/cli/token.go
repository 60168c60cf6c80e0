package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show the API token of the running server",
		Long: `Show the API token of the running server with an example request.

Use this when you've scrolled past the startup message.

Example:
  abg token`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(a.tokenFilePath())
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("no server running. Start with: abg serve")
				}
				return fmt.Errorf("failed to read token file: %w", err)
			}

			token := strings.TrimSpace(string(data))
			if token == "" {
				return fmt.Errorf("token file is empty. Restart the server with: abg serve")
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return printJSON(out, map[string]string{"token": token})
			}
			fmt.Fprintf(out, "API token: %s\n", token)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  curl -H 'Authorization: Bearer %s' http://localhost:%d/api/experiments\n", token, a.cfg.Server.Port)
			return nil
		},
	}
}
