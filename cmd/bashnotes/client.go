package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jxucoder/bashnotes/pkg/model"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

var runsLimit int

var notifyCmd = &cobra.Command{
	Use:   "notify PATH",
	Short: "Tell a running server that a document changed",
	Long: `Publish a change notice for PATH. Clients viewing the document receive
"file-changed" and the document is rendered again. PATH is resolved by the
server against its notebook root.`,
	Args: cobra.ExactArgs(1),
	RunE: runNotify,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from a running server",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(runsCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	body, _ := json.Marshal(map[string]string{"path": args[0]})
	resp, err := httpClient.Post(apiURL("/api/changed"), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}

	var out struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Notified %s\n", out.Path)
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	resp, err := httpClient.Get(apiURL(fmt.Sprintf("/api/runs?limit=%d", runsLimit)))
	if err != nil {
		return fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}

	var runs []model.Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tBLOCKS\tPATH\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			r.ID, r.Status, r.Directed, r.Blocks, r.Path, r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func apiURL(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// checkResponse turns a non-2xx reply into an error carrying the server's
// message.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, e.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
