package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/keys"
	"mercator-hq/relay/pkg/limits/quota"
)

var keysFlags struct {
	output     string
	name       string
	rateLimit  int
	rateWindow time.Duration
	quotaLimit int64
	status     string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage proxy API keys",
	Long: `Create, list, update and disable the API keys clients use to call the proxy.

The commands operate directly on the database named by storage.path, so they
work whether or not the server is running. A running server picks up changes
once its key cache entry expires (keys.cache_ttl).

Subcommands:
  create  - Issue a new key and print its secret once
  list    - List all keys
  update  - Change a key's name, limits or status
  disable - Disable a key
  quota   - Show a key's quota for the current period

Examples:
  # Issue a key with the default limits
  relay keys create --name billing-service

  # Issue a key allowing 10 requests per second and 1M tokens per period
  relay keys create --name batch --rate-limit 10 --rate-window 1s --quota 1000000

  # Raise a key's quota
  relay keys update 3f0c... --quota 5000000

  # List keys as JSON
  relay keys list --output json`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new key",
	Long: `Issue a new key. The secret is printed once and cannot be recovered;
only its hash is stored.`,
	Args: cobra.NoArgs,
	RunE: createKey,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all keys",
	Args:  cobra.NoArgs,
	RunE:  listKeys,
}

var keysUpdateCmd = &cobra.Command{
	Use:   "update <key-id>",
	Short: "Update a key",
	Long:  `Update a key. Only the flags given are changed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  updateKey,
}

var keysDisableCmd = &cobra.Command{
	Use:   "disable <key-id>",
	Short: "Disable a key",
	Args:  cobra.ExactArgs(1),
	RunE:  disableKey,
}

var keysQuotaCmd = &cobra.Command{
	Use:   "quota <key-id>",
	Short: "Show a key's quota for the current period",
	Args:  cobra.ExactArgs(1),
	RunE:  showQuota,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysUpdateCmd, keysDisableCmd, keysQuotaCmd)

	keysCmd.PersistentFlags().StringVarP(&keysFlags.output, "output", "o", "table", "output format: table, json, csv")

	for _, c := range []*cobra.Command{keysCreateCmd, keysUpdateCmd} {
		c.Flags().StringVar(&keysFlags.name, "name", "", "key name")
		c.Flags().IntVar(&keysFlags.rateLimit, "rate-limit", 0, "requests allowed per window (0 uses the default)")
		c.Flags().DurationVar(&keysFlags.rateWindow, "rate-window", 0, "rate limit window (0 uses the default)")
		c.Flags().Int64Var(&keysFlags.quotaLimit, "quota", -1, "tokens allowed per quota period (0 is unlimited, -1 uses the default)")
	}
	keysUpdateCmd.Flags().StringVar(&keysFlags.status, "status", "", "key status: active, disabled")

	keysCreateCmd.MarkFlagRequired("name")
}

// keyTable renders keys without their secrets.
type keyTable []*keys.Key

func (t keyTable) Header() []string {
	return []string{"ID", "Name", "Prefix", "Status", "Rate Limit", "Quota", "Created"}
}

func (t keyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, k := range t {
		rows = append(rows, []string{
			k.ID,
			k.Name,
			k.Prefix,
			string(k.Status),
			fmt.Sprintf("%d/%s", k.RateLimit, k.RateWindow),
			formatQuota(k.QuotaLimit),
			k.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func (t keyTable) Footer() []string {
	footer := make([]string, len(t.Header()))
	footer[0] = fmt.Sprintf("%d keys", len(t))
	return footer
}

// createdKey is the only place the raw secret is shown.
type createdKey struct {
	*keys.Key
	Secret string `json:"secret"`
}

func (c createdKey) Header() []string {
	return []string{"ID", "Name", "Secret", "Rate Limit", "Quota"}
}

func (c createdKey) Rows() [][]string {
	return [][]string{{
		c.ID,
		c.Name,
		c.Secret,
		fmt.Sprintf("%d/%s", c.RateLimit, c.RateWindow),
		formatQuota(c.QuotaLimit),
	}}
}

type quotaTable struct {
	*quota.Status
}

func (q quotaTable) Header() []string {
	return []string{"Key", "Unit", "Limit", "Used", "Reserved", "Remaining", "Resets"}
}

func (q quotaTable) Rows() [][]string {
	limit, remaining := formatQuota(q.Limit), strconv.FormatInt(q.Remaining, 10)
	if q.Unlimited {
		remaining = "-"
	}
	return [][]string{{
		q.KeyID,
		string(q.Unit),
		limit,
		strconv.FormatInt(q.Used, 10),
		strconv.FormatInt(q.Reserved, 10),
		remaining,
		q.Reset.UTC().Format(time.RFC3339),
	}}
}

func formatQuota(limit int64) string {
	if limit == 0 {
		return "unlimited"
	}
	return strconv.FormatInt(limit, 10)
}

func createKey(cmd *cobra.Command, args []string) error {
	return withDatabase(cmd, "keys create", func(ctx context.Context, db *database) error {
		p := keys.CreateParams{
			Name:       keysFlags.name,
			RateLimit:  keysFlags.rateLimit,
			RateWindow: keysFlags.rateWindow,
		}
		if keysFlags.quotaLimit >= 0 {
			q := keysFlags.quotaLimit
			p.QuotaLimit = &q
		}

		k, secret, err := db.manage.Create(ctx, p)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), keysFlags.output, createdKey{Key: k, Secret: secret})
	})
}

func listKeys(cmd *cobra.Command, args []string) error {
	return withDatabase(cmd, "keys list", func(ctx context.Context, db *database) error {
		list, err := db.manage.List(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), keysFlags.output, keyTable(list))
	})
}

func updateKey(cmd *cobra.Command, args []string) error {
	var u keys.Update
	flags := cmd.Flags()
	if flags.Changed("name") {
		u.Name = &keysFlags.name
	}
	if flags.Changed("rate-limit") {
		u.RateLimit = &keysFlags.rateLimit
	}
	if flags.Changed("rate-window") {
		u.RateWindow = &keysFlags.rateWindow
	}
	if flags.Changed("quota") {
		u.QuotaLimit = &keysFlags.quotaLimit
	}
	if flags.Changed("status") {
		status := keys.Status(keysFlags.status)
		u.Status = &status
	}
	if u.Empty() {
		return cli.NewCommandError("keys update", errors.New("nothing to update: pass at least one of --name, --rate-limit, --rate-window, --quota, --status"))
	}

	return withDatabase(cmd, "keys update", func(ctx context.Context, db *database) error {
		k, err := db.manage.Update(ctx, args[0], u)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), keysFlags.output, keyTable{k})
	})
}

func disableKey(cmd *cobra.Command, args []string) error {
	return withDatabase(cmd, "keys disable", func(ctx context.Context, db *database) error {
		k, err := db.manage.Disable(ctx, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), keysFlags.output, keyTable{k})
	})
}

func showQuota(cmd *cobra.Command, args []string) error {
	return withDatabase(cmd, "keys quota", func(ctx context.Context, db *database) error {
		k, err := db.manage.Get(ctx, args[0])
		if err != nil {
			return err
		}

		qcfg, err := quota.ConfigFrom(db.cfg.Limits.Quota)
		if err != nil {
			return cli.NewConfigError("limits.quota", err.Error())
		}
		tracker, err := quota.NewTracker(db.quota, qcfg)
		if err != nil {
			return err
		}

		status, err := tracker.Status(ctx, k)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), keysFlags.output, quotaTable{status})
	})
}

// withDatabase loads the config, opens the database and runs fn. Errors
// other than config errors are reported under name.
func withDatabase(cmd *cobra.Command, name string, fn func(ctx context.Context, db *database) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return cli.NewCommandError(name, err)
	}
	defer db.Close()

	if err := fn(cmd.Context(), db); err != nil {
		var cfgErr *cli.ConfigError
		if errors.As(err, &cfgErr) {
			return err
		}
		return cli.NewCommandError(name, err)
	}
	return nil
}
