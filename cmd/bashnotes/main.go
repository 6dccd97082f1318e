// bashnotes
//
// Renders markdown notebooks and runs their shell-directed code blocks in a
// per-directory container, streaming the output to a browser.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "bashnotes",
	Short: "bashnotes - executable markdown notebooks",
	Long: `bashnotes renders markdown notebooks and runs their code blocks in a
container built from the notebook's directory.

  bashnotes serve                    Start the server
  bashnotes render notes.md --exec   Render one document, running its blocks
  bashnotes tree                     Print the notebook tree
  bashnotes notify notes.md          Tell a running server a file changed
  bashnotes runs                     List recent runs
  bashnotes config show              Show current configuration`,
	Version:           version,
	PersistentPreRunE: resolveServerURL,
}

const defaultServerURL = "http://localhost:3012"

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "bashnotes server URL, overrides BASHNOTES_SERVER")
}

// resolveServerURL applies BASHNOTES_SERVER from the environment or the
// config file unless --server was given.
func resolveServerURL(cmd *cobra.Command, args []string) error {
	if f := cmd.Flag("server"); f != nil && f.Changed {
		return nil
	}
	fileValues, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	serverURL = defaultServerURL
	if v := effectiveValue("BASHNOTES_SERVER", fileValues); v != "" {
		serverURL = v
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
