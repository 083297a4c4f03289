package main

import (
	"strconv"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/backends"
	"mercator-hq/relay/pkg/cli"
)

var backendsFlags struct {
	output string
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List configured upstream backends",
	Long: `List the upstream backends in the configuration in failover order.

The backend marked * is active when the server starts. Use the management
API (PUT /v1/backends/active) to switch a running server.`,
	Args: cobra.NoArgs,
	RunE: listBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
	backendsCmd.Flags().StringVarP(&backendsFlags.output, "output", "o", "table", "output format: table, json, csv")
}

type backendTable struct {
	Active   string              `json:"active"`
	Backends []backendTableEntry `json:"backends"`
}

type backendTableEntry struct {
	ID            string `json:"id"`
	BaseURL       string `json:"base_url"`
	AuthScheme    string `json:"auth_scheme"`
	Priority      int    `json:"priority"`
	MaxConcurrent int    `json:"max_concurrent"`
	Timeout       string `json:"timeout"`
}

func (t backendTable) Header() []string {
	return []string{"", "ID", "Base URL", "Auth", "Priority", "Max Concurrent", "Timeout"}
}

func (t backendTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Backends))
	for _, b := range t.Backends {
		marker := ""
		if b.ID == t.Active {
			marker = "*"
		}
		rows = append(rows, []string{
			marker,
			b.ID,
			b.BaseURL,
			b.AuthScheme,
			strconv.Itoa(b.Priority),
			strconv.Itoa(b.MaxConcurrent),
			b.Timeout,
		})
	}
	return rows
}

func listBackends(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := backends.NewRegistryFromConfig(cfg, nil)
	if err != nil {
		return cli.NewConfigError("backends", err.Error())
	}

	snap := reg.Snapshot()
	out := backendTable{Active: snap.Active}
	for _, st := range snap.Backends {
		b, ok := reg.Get(st.ID)
		if !ok {
			continue
		}
		out.Backends = append(out.Backends, backendTableEntry{
			ID:            b.ID,
			BaseURL:       b.BaseURL.String(),
			AuthScheme:    b.AuthScheme,
			Priority:      b.Priority,
			MaxConcurrent: b.MaxConcurrent,
			Timeout:       b.Timeout.String(),
		})
	}
	return render(cmd.OutOrStdout(), backendsFlags.output, out)
}
