package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"truelens/internal/app"
	"truelens/internal/db"
	"truelens/internal/domain"
	"truelens/internal/engine"
	"truelens/internal/engine/auth"
	"truelens/internal/relay"
	"truelens/internal/repo"
	"truelens/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "TrueLens CLI",
	Long: `TrueLens verifies news items by stake-weighted consensus.
- Items: content opened for a fixed voting window; ids are derived from the content.
- Votes: a participant stakes on verify or flag, once per item; the stake is locked until settlement.
- Settlement: when the window ends (or a supermajority arrives early) the minority stake is paid pro rata to the majority. Without a clear majority every stake is returned.
- Reputation: correct votes raise a participant's score and level, incorrect ones lower it.
- Event log: every change is recorded, view with 'tl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRUELENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor recorded in the event log")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "development logging")
	rootCmd.PersistentFlags().String("jwt-secret", "", "HS256 secret (overrides auth.jwt_secret)")
	for _, name := range []string{"workspace", "json", "actor-id", "verbose", "jwt-secret"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(settleDueCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create truelens.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitWorkspace(viper.GetString("workspace"), force)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				fmt.Printf("Wrote %s\nDatabase at %s\n", path, db.Path(a.Workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the settlement sweeper and the event relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, true, func(ctx context.Context, a *app.App) error {
				if a.Config.Auth.JWTSecret == "" && !a.Config.Auth.AllowLegacyHeader {
					return fmt.Errorf("no way to authenticate: set auth.jwt_secret (or TRUELENS_JWT_SECRET) or auth.allow_legacy_header")
				}
				if !cmd.Flags().Changed("addr") {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: server.AuthConfig{
					JWTSecret:         a.Config.Auth.JWTSecret,
					AllowLegacyHeader: a.Config.Auth.AllowLegacyHeader,
					Logger:            a.Logger.Named("auth"),
				}})
				if err != nil {
					return err
				}
				rl, err := relay.New(a.Engine.Repo, a.Config.Relay, a.Logger.Named("relay"))
				if err != nil {
					return err
				}
				defer rl.Close()
				sw := engine.Sweeper{
					Engine:      a.Engine,
					Interval:    a.Config.Sweeper.Interval,
					Concurrency: a.Config.Sweeper.Concurrency,
					Logger:      a.Logger.Named("sweeper"),
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return sw.Run(gctx) })
				g.Go(func() error { return rl.Run(gctx) })
				g.Go(func() error {
					<-gctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
				g.Go(func() error {
					a.Logger.Info("serving TrueLens API",
						zap.String("addr", addr),
						zap.String("base_path", basePath),
						zap.Int("relay_sinks", len(rl.Sinks)))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage content items",
		Long:  "Items are news content opened for verification. They move open -> closed -> settled.",
	}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemStatusCmd())
	item.AddCommand(itemVotesCmd())
	item.AddCommand(itemSettleCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var opts engine.NewItem
	var bodyFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open an item for verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return err
				}
				opts.Body = string(data)
			}
			opts.ActorID = viper.GetString("actor-id")
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (derived from the content if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "headline")
	cmd.Flags().StringVar(&opts.Source, "source", "", "publisher")
	cmd.Flags().StringVar(&opts.URL, "url", "", "canonical url")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "file holding the full text")
	cmd.Flags().DurationVar(&opts.Window, "window", 0, "voting window (defaults to consensus.voting_window)")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "State", "Closes at")
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Title, it.State, it.ClosesAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.State, "state", "", "state filter (open, closed, settled)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max items")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "skip items")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an item and its settlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.Item(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"item": it}
				if it.State == domain.StateSettled {
					res, err := a.Engine.Settlement(ctx, it.ID)
					if err != nil {
						return err
					}
					out["settlement"] = res
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func itemStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Live tally and projected outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.GetStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Item: %s (%s)\n", st.ContentID, st.State)
				fmt.Printf("Verify: %d  Flag: %d  Votes: %d  Ratio: %s\n", st.VerifyWeight, st.FlagWeight, st.VoteCount, st.ConsensusRatio.String())
				fmt.Printf("Closes at: %s\n", st.ClosesAt.Format(time.RFC3339))
				if st.Outcome != nil {
					fmt.Printf("Outcome: %s\n", *st.Outcome)
				} else {
					fmt.Printf("Projected outcome: %s\n", st.ProjectedOutcome)
				}
				return nil
			})
		},
	}
}

func itemVotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "votes <id>",
		Short: "Votes in submission order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				vs, err := a.Engine.Votes(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vs)
				}
				tw := newTable("Seq", "Participant", "Choice", "Stake", "Submitted at")
				for _, v := range vs {
					tw.AppendRow(table.Row{v.Seq, v.ParticipantID, v.Choice, v.Stake, v.SubmittedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func itemSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <id>",
		Short: "Settle a closed or expired item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Settle(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printSettlement(res)
				return nil
			})
		},
	}
}

func voteCmd() *cobra.Command {
	var in engine.VoteInput
	var choice string
	cmd := &cobra.Command{
		Use:   "vote <item-id>",
		Short: "Stake on verify or flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ContentID = args[0]
			in.Choice = domain.Choice(strings.ToLower(strings.TrimSpace(choice)))
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				v, err := a.Engine.SubmitVote(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&in.ParticipantID, "participant", "", "voting participant")
	cmd.Flags().StringVar(&choice, "choice", "", "verify or flag")
	cmd.Flags().Int64Var(&in.Stake, "stake", 0, "stake to lock")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("choice")
	_ = cmd.MarkFlagRequired("stake")
	return cmd
}

func participantCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "participant",
		Short: "Balances, deposits and reputation",
	}
	p.AddCommand(participantDepositCmd())
	p.AddCommand(participantShowCmd())
	p.AddCommand(participantHistoryCmd())
	p.AddCommand(participantLedgerCmd())
	return p
}

func participantDepositCmd() *cobra.Command {
	var amount int64
	var reference string
	cmd := &cobra.Command{
		Use:   "deposit <id>",
		Short: "Credit stake to a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				bal, err := a.Engine.Deposit(ctx, args[0], amount, reference, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(bal)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount to credit")
	cmd.Flags().StringVar(&reference, "reference", "", "external reference")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func participantShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Balances and reputation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Participant(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func participantHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Settled votes, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				hist, err := a.Engine.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hist)
				}
				tw := newTable("Item", "Choice", "Stake", "Correct", "Reward", "Lost", "Recorded at")
				for _, h := range hist {
					tw.AppendRow(table.Row{h.ContentID, h.Choice, h.Stake, h.Correct, h.Reward, h.StakeLost, h.RecordedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max records")
	return cmd
}

func participantLedgerCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger <id>",
		Short: "Ledger journal, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.LedgerEntries(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("ID", "Kind", "Amount", "Counterparty", "Reference", "At")
				for _, le := range entries {
					tw.AppendRow(table.Row{le.ID, le.Kind, le.Amount, le.Counterparty, le.Reference, le.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	return cmd
}

func leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Participants by reputation score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				top, err := a.Engine.Leaderboard(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(top)
				}
				tw := newTable("#", "Participant", "Score", "Level", "Accuracy", "Correct", "Incorrect", "Rewards")
				for i, r := range top {
					tw.AppendRow(table.Row{i + 1, r.ParticipantID, r.Score, r.Level, fmt.Sprintf("%d%%", r.Accuracy), r.Successes, r.Failures, r.RewardsEarned})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max participants")
	return cmd
}

func settleDueCmd() *cobra.Command {
	var concurrency, batch int
	cmd := &cobra.Command{
		Use:   "settle-due",
		Short: "Settle every item whose window has ended, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("concurrency") {
					concurrency = a.Config.Sweeper.Concurrency
				}
				sw := engine.Sweeper{Engine: a.Engine, Concurrency: concurrency, BatchSize: batch, Logger: a.Logger}
				res, err := sw.SweepOnce(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel settlements")
	cmd.Flags().IntVar(&batch, "batch", 0, "max items (0 for all)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every item, vote, deposit and settlement is recorded as an event.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				evts, err := a.Engine.Events(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor", "Payload")
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func tokenCmd() *cobra.Command {
	token := &cobra.Command{Use: "token", Short: "Bearer tokens for the API"}
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <participant-id>",
		Short: "Mint an HS256 token for a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("ttl") {
					ttl = a.Config.Auth.TokenTTL
				}
				tok, err := auth.IssueToken(a.Config.Auth.JWTSecret, args[0], ttl, time.Now())
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.AddCommand(issue)
	return token
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "API keys bound to participants"}
	var name string
	create := &cobra.Command{
		Use:   "create <participant-id>",
		Short: "Create an API key; the raw key is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				key, raw, err := a.Engine.CreateAPIKey(ctx, args[0], name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "participant_id": key.ParticipantID, "name": key.Name, "key": raw})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	keys.AddCommand(create, list, revoke)
	return keys
}

// --- helpers ---

func newLogger(serving bool) (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if !serving {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return cfg.Build()
}

func withApp(ctx context.Context, serving bool, fn func(context.Context, *app.App) error) error {
	logger, err := newLogger(serving)
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Logger:    logger,
		JWTSecret: viper.GetString("jwt-secret"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func printSettlement(res domain.SettlementResult) {
	fmt.Printf("Item: %s\nOutcome: %s (ratio %s, verify %d, flag %d)\n",
		res.ContentID, res.Outcome, res.ConsensusRatio.String(), res.VerifyWeight, res.FlagWeight)
	tw := newTable("Participant", "Choice", "Stake", "Returned", "Lost", "Reward")
	for _, e := range res.Entries {
		tw.AppendRow(table.Row{e.ParticipantID, e.Choice, e.Stake, e.StakeReturned, e.StakeLost, e.Reward})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
