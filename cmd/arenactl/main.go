package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "stockarena/internal/cli"
	"stockarena/internal/config"
	"stockarena/internal/contest"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()

	root := &cobra.Command{
		Use:          "arenactl",
		Short:        "Operate the stockarena contest scheduler",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "admin API base URL")
	root.PersistentFlags().StringVar(&cfg.AdminToken, "token", cfg.AdminToken, "admin bearer token")

	root.AddCommand(
		newLoginCmd(&cfg),
		newLogoutCmd(),
		newContestsCmd(&cfg),
		newJoinCmd(&cfg),
		newTimersCmd(&cfg),
		newScanCmd(&cfg),
		newStocksCmd(&cfg),
		newUsersCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newClient prefers flags and environment, then the saved credentials.
func newClient(cfg *config.CLIConfig) (*cl.Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	token := strings.TrimSpace(cfg.AdminToken)
	if token == "" {
		creds, err := cl.LoadCredentials()
		if err != nil {
			return nil, fmt.Errorf("admin token required (run `arenactl login` or set ARENACTL_ADMIN_TOKEN): %w", err)
		}
		token = creds.AdminToken
		if os.Getenv("ARENACTL_API_BASE_URL") == "" && creds.APIBaseURL != "" {
			base = creds.APIBaseURL
		}
	}
	return cl.NewClient(base, token), nil
}

func withClient(cfg *config.CLIConfig, fn func(ctx context.Context, client *cl.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return fn(ctx, client)
	}
}

func newLoginCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save the admin token for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(cfg.AdminToken)
			if token == "" {
				var err error
				token, err = promptRequired("Admin token")
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := cl.NewClient(cfg.APIBaseURL, token)
			if _, err := client.Timers(ctx); err != nil {
				return fmt.Errorf("token check failed: %w", err)
			}
			if err := cl.SaveCredentials(cl.Credentials{APIBaseURL: client.BaseURL, AdminToken: token}); err != nil {
				return err
			}
			printSuccess("Credentials saved.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearCredentials(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newContestsCmd(cfg *config.CLIConfig) *cobra.Command {
	contests := &cobra.Command{
		Use:     "contests",
		Short:   "Contest lifecycle commands",
		Aliases: []string{"contest"},
	}

	var statuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List contests",
		Args:  cobra.NoArgs,
	}
	list.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (upcoming, active, completed, cancelled)")
	list.RunE = withClient(cfg, func(ctx context.Context, client *cl.Client) error {
		out, err := client.ListContests(ctx, statuses)
		if err != nil {
			return err
		}
		return renderContests(out)
	})

	contests.AddCommand(
		list,
		newContestsCreateCmd(cfg),
		contestCmd(cfg, "show", "Show one contest", func(ctx context.Context, c *cl.Client, id int64) error {
			out, err := c.GetContest(ctx, id)
			if err != nil {
				return err
			}
			return renderContest(out)
		}),
		contestCmd(cfg, "start", "Start a contest now, ignoring its start time", func(ctx context.Context, c *cl.Client, id int64) error {
			out, err := c.StartContest(ctx, id)
			if err != nil {
				return err
			}
			return renderContest(out)
		}),
		contestCmd(cfg, "end", "End an active contest now and compute results", func(ctx context.Context, c *cl.Client, id int64) error {
			out, err := c.EndContest(ctx, id)
			if err != nil {
				return err
			}
			return renderContest(out)
		}),
		contestCmd(cfg, "calculate", "Recalculate results of an active or completed contest", func(ctx context.Context, c *cl.Client, id int64) error {
			out, err := c.CalculateResults(ctx, id)
			if err != nil {
				return err
			}
			return renderContest(out)
		}),
		contestCmd(cfg, "distribute", "Pay prizes of a completed contest", func(ctx context.Context, c *cl.Client, id int64) error {
			out, err := c.DistributePrizes(ctx, id)
			if err != nil {
				return err
			}
			return renderPayouts(out)
		}),
		contestCmd(cfg, "schedule", "Register start and end timers from stored times", func(ctx context.Context, c *cl.Client, id int64) error {
			out, err := c.ScheduleContest(ctx, id)
			if err != nil {
				return err
			}
			return renderTimers(out)
		}),
		contestCmd(cfg, "unschedule", "Drop pending timers; the periodic scan still applies", func(ctx context.Context, c *cl.Client, id int64) error {
			out, err := c.UnscheduleContest(ctx, id)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Cancelled %v timer(s) for contest %d.", out["cancelled"], id))
			return nil
		}),
		contestCmd(cfg, "leaderboard", "Show the live or final leaderboard", func(ctx context.Context, c *cl.Client, id int64) error {
			out, err := c.Leaderboard(ctx, id)
			if err != nil {
				return err
			}
			return renderLeaderboard(out)
		}),
		newContestStatusCmd(cfg),
	)
	return contests
}

func contestCmd(cfg *config.CLIConfig, use, short string, fn func(context.Context, *cl.Client, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " CONTEST_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contest id")
			if err != nil {
				return err
			}
			return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
				return fn(ctx, client, id)
			})(cmd, args)
		},
	}
}

func newContestStatusCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status CONTEST_ID STATUS",
		Short: "Move a contest to active, completed or cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contest id")
			if err != nil {
				return err
			}
			status, err := contest.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
				out, err := client.SetStatus(ctx, id, string(status))
				if err != nil {
					return err
				}
				return renderContest(out)
			})(cmd, args)
		},
	}
}

func newContestsCreateCmd(cfg *config.CLIConfig) *cobra.Command {
	var (
		in            cl.ContestInput
		start, end    string
		startIn, runs time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an upcoming contest",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&in.EntryFee, "fee", "0", "entry fee in coins")
	cmd.Flags().StringVar(&in.PrizePool, "pool", "0", "prize pool in coins")
	cmd.Flags().IntVar(&in.MaxParticipants, "max", 0, "maximum participants (0 = unlimited)")
	cmd.Flags().BoolVar(&in.Featured, "featured", false, "mark as featured")
	cmd.Flags().StringVar(&start, "start", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "end time (RFC3339)")
	cmd.Flags().DurationVar(&startIn, "start-in", time.Hour, "start this long from now when --start is not set")
	cmd.Flags().DurationVar(&runs, "runs", 24*time.Hour, "duration when --end is not set")
	cmd.RunE = func(c *cobra.Command, args []string) error {
		in.Name = args[0]
		var err error
		if in.StartTime, err = parseTimeOr(start, time.Now().Add(startIn)); err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		if in.EndTime, err = parseTimeOr(end, in.StartTime.Add(runs)); err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
		return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
			out, err := client.CreateContest(ctx, in)
			if err != nil {
				return err
			}
			printSuccess("Contest created.")
			return renderContest(out)
		})(c, args)
	}
	return cmd
}

func newJoinCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "join CONTEST_ID USER_ID SYMBOL=COINS...",
		Short: "Enter a user into an upcoming contest",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contest id")
			if err != nil {
				return err
			}
			allocations, err := parseAllocations(args[2:])
			if err != nil {
				return err
			}
			return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
				out, err := client.Join(ctx, id, args[1], allocations)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Entry %v created for %s in contest %d.", out["id"], args[1], id))
				return nil
			})(cmd, args)
		},
	}
}

func newTimersCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "timers",
		Short: "List pending one-shot start and end timers",
		Args:  cobra.NoArgs,
		RunE: withClient(cfg, func(ctx context.Context, client *cl.Client) error {
			out, err := client.Timers(ctx)
			if err != nil {
				return err
			}
			return renderTimers(out)
		}),
	}
}

func newScanCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run the periodic lifecycle scan now",
		Args:  cobra.NoArgs,
		RunE: withClient(cfg, func(ctx context.Context, client *cl.Client) error {
			if _, err := client.Scan(ctx); err != nil {
				return err
			}
			printSuccess("Scan complete.")
			return nil
		}),
	}
}

func newStocksCmd(cfg *config.CLIConfig) *cobra.Command {
	stocks := &cobra.Command{
		Use:     "stocks",
		Short:   "Price feed commands",
		Aliases: []string{"stock"},
	}
	stocks.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List priced stocks",
		Args:  cobra.NoArgs,
		RunE: withClient(cfg, func(ctx context.Context, client *cl.Client) error {
			out, err := client.ListStocks(ctx)
			if err != nil {
				return err
			}
			return renderStocks(out)
		}),
	})

	var name string
	set := &cobra.Command{
		Use:   "set SYMBOL PRICE",
		Short: "Record the latest price of a stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := contest.NormalizeSymbol(args[0])
			if err := contest.ValidateSymbol(symbol); err != nil {
				return err
			}
			return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
				if _, err := client.SetStock(ctx, symbol, name, args[1]); err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("%s priced at %s.", symbol, args[1]))
				return nil
			})(cmd, args)
		},
	}
	set.Flags().StringVar(&name, "name", "", "display name")
	stocks.AddCommand(set)
	return stocks
}

func newUsersCmd(cfg *config.CLIConfig) *cobra.Command {
	users := &cobra.Command{
		Use:     "users",
		Short:   "User and coin ledger commands",
		Aliases: []string{"user"},
	}

	var username string
	set := &cobra.Command{
		Use:   "set USER_ID",
		Short: "Create or rename a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
				out, err := client.SetUser(ctx, args[0], username)
				if err != nil {
					return err
				}
				return renderUser(out)
			})(cmd, args)
		},
	}
	set.Flags().StringVar(&username, "username", "", "display name")

	show := &cobra.Command{
		Use:   "show USER_ID",
		Short: "Show a user's coin balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
				out, err := client.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return renderUser(out)
			})(cmd, args)
		},
	}

	var txType, description, idem string
	grant := &cobra.Command{
		Use:   "grant USER_ID AMOUNT",
		Short: "Credit purchased or exchanged coins",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(idem)
			if key == "" {
				key = uuid.NewString()
			}
			return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
				if _, err := client.GrantCoins(ctx, args[0], txType, args[1], description, key); err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Granted %s coins to %s (key %s).", args[1], args[0], key))
				return nil
			})(cmd, args)
		},
	}
	grant.Flags().StringVar(&txType, "type", string(contest.TxPurchase), "purchase or exchange")
	grant.Flags().StringVar(&description, "description", "", "ledger description")
	grant.Flags().StringVar(&idem, "idempotency-key", "", "reuse to make a retried grant a no-op")

	var limit int
	txs := &cobra.Command{
		Use:   "transactions USER_ID",
		Short: "List a user's coin transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(ctx context.Context, client *cl.Client) error {
				out, err := client.Transactions(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return renderTransactions(out)
			})(cmd, args)
		},
	}
	txs.Flags().IntVar(&limit, "limit", 20, "number of rows")

	users.AddCommand(set, show, grant, txs)
	return users
}

func parseID(raw, label string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", label)
	}
	return v, nil
}

func parseTimeOr(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback.UTC().Truncate(time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseAllocations(args []string) ([]cl.Allocation, error) {
	out := make([]cl.Allocation, 0, len(args))
	for _, arg := range args {
		symbol, coins, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(symbol) == "" || strings.TrimSpace(coins) == "" {
			return nil, fmt.Errorf("allocation %q must be SYMBOL=COINS", arg)
		}
		out = append(out, cl.Allocation{
			Symbol: contest.NormalizeSymbol(symbol),
			Coins:  strings.TrimSpace(coins),
		})
	}
	return out, nil
}
