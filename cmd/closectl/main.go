package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"closeline/internal/agreement"
	"closeline/internal/app"
	"closeline/internal/config"
	"closeline/internal/db"
	"closeline/internal/domain"
	"closeline/internal/engine"
	"closeline/internal/logging"
	"closeline/internal/metrics"
	"closeline/internal/server"
	"closeline/internal/snapshot"
)

var rootCmd = &cobra.Command{
	Use:   "closectl",
	Short: "closeline CLI",
	Long: `closeline hosts real-estate closing agreements on a local ledger.
- App: one agreement instance, created by its admin.
- Parties: the buyer and the seller, set once by initialize.
- Milestones: ordered closing steps; they complete strictly in order.
- Signatures: each party signs once; with every milestone complete the
  second signature executes the agreement automatically.
- Event log: every applied call and its events, view with 'closectl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLOSELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("sender", "", "address the call is sent from")
	rootCmd.PersistentFlags().Uint64("app", 0, "app id (overrides the workspace default)")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/closeline.yml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log engine activity to stderr")
	for _, name := range []string{"workspace", "json", "sender", "app", "config", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(initializeCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(executeCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(txnCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- account ---

func accountCmd() *cobra.Command {
	acct := &cobra.Command{Use: "account", Short: "Manage addresses"}
	acct.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Generate a random address",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := agreement.NewAddress()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"address": a.String()})
			}
			fmt.Println(a.String())
			return nil
		},
	})
	return acct
}

// --- app ---

func appCmd() *cobra.Command {
	a := &cobra.Command{Use: "app", Short: "Manage agreement instances"}
	a.AddCommand(appCreateCmd())
	a.AddCommand(appListCmd())
	a.AddCommand(appShowCmd())
	a.AddCommand(appUseCmd())
	a.AddCommand(appExportCmd())
	a.AddCommand(appImportCmd())
	return a
}

func appCreateCmd() *cobra.Command {
	var use bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agreement; the sender becomes its admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := senderAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rcpt, err := e.CreateApp(ctx, sender)
				if err != nil {
					return err
				}
				if use {
					if err := app.UseApp(viper.GetString("workspace"), rcpt.AppID); err != nil {
						return err
					}
				}
				return printReceipt(rcpt)
			})
		},
	}
	cmd.Flags().BoolVar(&use, "use", true, "make the new app the workspace default")
	return cmd
}

func appListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				apps, err := e.Apps(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(apps)
				}
				current, _ := app.CurrentApp(viper.GetString("workspace"))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "ID", "Creator", "Status", "Milestones", "Created"})
				for _, a := range apps {
					st, err := e.Agreement(ctx, a.ID)
					if err != nil {
						return err
					}
					marker := ""
					if a.ID == current {
						marker = "*"
					}
					progress := fmt.Sprintf("%d/%d", st.CurrentMilestone, st.MilestoneCount())
					tw.AppendRow(table.Row{marker, a.ID, a.Creator.String(), st.Status, progress, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func appShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the decoded agreement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, e *engine.Engine, appID uint64) error {
				st, err := e.Agreement(ctx, appID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"App", appID},
					{"Status", st.Status},
					{"Admin", st.Admin.String()},
					{"Buyer", optionalAddress(st.Buyer)},
					{"Seller", optionalAddress(st.Seller)},
					{"Amount", st.Amount},
					{"Document hash", hex.EncodeToString(st.DocumentHash)},
					{"Milestones", fmt.Sprintf("%d/%d complete", st.CurrentMilestone, st.MilestoneCount())},
					{"Buyer signed", signedAt(st.BuyerSigned, st.BuyerSignedAt)},
					{"Seller signed", signedAt(st.SellerSigned, st.SellerSignedAt)},
					{"Executed", signedAt(st.Status == agreement.StatusExecuted, st.ExecutionDate)},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func appUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the workspace default app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid app id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if _, err := e.App(ctx, id); err != nil {
					return err
				}
				if err := app.UseApp(viper.GetString("workspace"), id); err != nil {
					return err
				}
				fmt.Printf("Using app %d\n", id)
				return nil
			})
		},
	}
}

func appExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a compressed snapshot of an app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, e *engine.Engine, appID uint64) error {
				snap, err := snapshot.Export(ctx, e, appID)
				if err != nil {
					return err
				}
				if out == "" {
					out = fmt.Sprintf("app-%d.snapshot.zst", appID)
				}
				if err := snapshot.Write(out, snap); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"path": out, "header": snap.Header})
				}
				fmt.Printf("Exported app %d (%s, %d events) to %s\n", appID, snap.Header.Status, len(snap.Events), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path")
	return cmd
}

func appImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Restore a snapshot's global state as a new app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := senderAddress()
			if err != nil {
				return err
			}
			snap, err := snapshot.Read(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				restored, err := snapshot.Import(ctx, e, sender, snap)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(restored)
				}
				fmt.Printf("Imported app %d from %s as app %d\n", snap.Header.AppID, args[0], restored.ID)
				return nil
			})
		},
	}
}

// --- agreement calls ---

func initializeCmd() *cobra.Command {
	var buyer, seller, docHash, docFile string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "initialize",
		Short: "Set parties, amount and document hash (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := agreement.ParseAddress(buyer)
			if err != nil {
				return fmt.Errorf("--buyer: %w", err)
			}
			s, err := agreement.ParseAddress(seller)
			if err != nil {
				return fmt.Errorf("--seller: %w", err)
			}
			hash, err := documentHash(docHash, docFile)
			if err != nil {
				return err
			}
			return sendCall(cmd.Context(), agreement.InitializeArgs(b, s, amount, hash))
		},
	}
	cmd.Flags().StringVar(&buyer, "buyer", "", "buyer address")
	cmd.Flags().StringVar(&seller, "seller", "", "seller address")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "purchase amount")
	cmd.Flags().StringVar(&docHash, "document-hash", "", "hex SHA-256 of the agreement document")
	cmd.Flags().StringVar(&docFile, "document", "", "agreement document to hash")
	_ = cmd.MarkFlagRequired("buyer")
	_ = cmd.MarkFlagRequired("seller")
	return cmd
}

func documentHash(hexHash, file string) ([]byte, error) {
	switch {
	case hexHash != "" && file != "":
		return nil, errors.New("use either --document-hash or --document")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		return sum[:], nil
	case hexHash != "":
		b, err := hex.DecodeString(strings.TrimPrefix(hexHash, "0x"))
		if err != nil {
			return nil, fmt.Errorf("--document-hash: %w", err)
		}
		return b, nil
	}
	return nil, errors.New("--document-hash or --document required")
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{Use: "milestone", Short: "Manage closing milestones"}
	m.AddCommand(milestoneAddCmd())
	m.AddCommand(milestoneCompleteCmd())
	m.AddCommand(milestoneListCmd())
	return m
}

func milestoneAddCmd() *cobra.Command {
	var title, desc string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCall(cmd.Context(), agreement.AddMilestoneArgs(title, desc))
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "milestone title (no '|')")
	cmd.Flags().StringVar(&desc, "description", "", "milestone description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func milestoneCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <index>",
		Short: "Complete the next milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			return sendCall(cmd.Context(), agreement.CompleteMilestoneArgs(idx))
		},
	}
}

func milestoneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List milestones in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, e *engine.Engine, appID uint64) error {
				st, err := e.Agreement(ctx, appID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st.Milestones)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Title", "Description", "Completed"})
				for i, m := range st.Milestones {
					tw.AppendRow(table.Row{i, m.Title, m.Description, signedAt(m.Completed, m.CompletedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func signCmd() *cobra.Command {
	var party string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Record a party signature (defaults to the sender)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if party == "" {
				party = viper.GetString("sender")
			}
			p, err := agreement.ParseAddress(party)
			if err != nil {
				return fmt.Errorf("--party: %w", err)
			}
			return sendCall(cmd.Context(), agreement.VerifySignatureArgs(p))
		},
	}
	cmd.Flags().StringVar(&party, "party", "", "signing party address")
	return cmd
}

func executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Execute a fully signed agreement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCall(cmd.Context(), agreement.ExecuteAgreementArgs())
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the agreement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCall(cmd.Context(), agreement.CancelAgreementArgs())
		},
	}
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <arg>...",
		Short: "Send a raw call",
		Long: `Send a raw application call. Arguments take goal-style prefixes:
  str:<text>  int:<uint64>  addr:<address>  b64:<base64>  hex:<hex>
An argument without a prefix is sent as a string.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := agreement.ParseArgs(args)
			if err != nil {
				return err
			}
			return sendCall(cmd.Context(), raw)
		},
	}
}

// --- history ---

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, txnID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, e *engine.Engine, appID uint64) error {
				evts, err := e.Events(ctx, domain.EventQuery{AppID: appID, Type: evtType, TxnID: txnID})
				if err != nil {
					return err
				}
				if n > 0 && len(evts) > n {
					evts = evts[len(evts)-n:]
				}
				return printEvents(evts)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&txnID, "txn", "", "transaction id filter")
	return cmd
}

func txnCmd() *cobra.Command {
	t := &cobra.Command{Use: "txn", Short: "Inspect applied calls"}
	t.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List applied calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, e *engine.Engine, appID uint64) error {
				txns, err := e.Txns(ctx, appID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(txns)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "Sender", "Args", "TS"})
				for _, t := range txns {
					tw.AppendRow(table.Row{t.ID, t.Action, t.Sender.String(), len(t.Args), t.TS})
				}
				tw.Render()
				return nil
			})
		},
	})
	return t
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is closeline.yml in the workspace: storage driver, global state limits, server and logging settings.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default closeline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:         viper.GetString("jwt_secret"),
				AllowSenderHeader: cfg.Server.AllowSenderHeader,
				DevLogin:          cfg.Server.DevAuth,
				TokenTTL:          cfg.TokenLifetime(),
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CLOSELINE_JWT_SECRET is required for bearer auth")
			}
			log, err := logging.FromConfig(cfg, os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := app.OpenStore(ctx, viper.GetString("workspace"), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			e := engine.New(store, cfg)
			e.Log = log
			e.Metrics = metrics.New()
			apps, err := e.Apps(ctx)
			if err != nil {
				return err
			}
			e.Metrics.SetApps(len(apps))

			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Log: log})
			if err != nil {
				return err
			}
			go server.NewWebhookDispatcher(e, cfg.Webhooks, log).Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.WithField("driver", cfg.Storage.Driver).Infof("serving closeline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.FromConfig(cfg, os.Stderr)
	if err != nil {
		return err
	}
	if !viper.GetBool("verbose") {
		log = logging.Discard()
	}
	store, err := app.OpenStore(ctx, viper.GetString("workspace"), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	e := engine.New(store, cfg)
	e.Log = log
	return fn(ctx, e)
}

func withApp(ctx context.Context, fn func(context.Context, *engine.Engine, uint64) error) error {
	return withEngine(ctx, func(ctx context.Context, e *engine.Engine) error {
		appID, err := app.ResolveApp(ctx, viper.GetString("workspace"), viper.GetUint64("app"), e)
		if err != nil {
			return err
		}
		return fn(ctx, e, appID)
	})
}

func senderAddress() (agreement.Address, error) {
	s := strings.TrimSpace(viper.GetString("sender"))
	if s == "" {
		return agreement.Address{}, errors.New("--sender (or CLOSELINE_SENDER) required")
	}
	a, err := agreement.ParseAddress(s)
	if err != nil {
		return a, fmt.Errorf("--sender: %w", err)
	}
	return a, nil
}

func sendCall(ctx context.Context, args [][]byte) error {
	sender, err := senderAddress()
	if err != nil {
		return err
	}
	return withApp(ctx, func(ctx context.Context, e *engine.Engine, appID uint64) error {
		rcpt, err := e.Call(ctx, appID, sender, args)
		if err != nil {
			return err
		}
		return printReceipt(rcpt)
	})
}

func printReceipt(r engine.Receipt) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	fmt.Printf("app %d: %s applied (txn %s)\n", r.AppID, r.Action, r.TxnID)
	return printEvents(r.Events)
}

func printEvents(evts []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(evts)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Type", "Fields", "TS"})
	for _, e := range evts {
		fields := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			fields = append(fields, f.Label+"="+f.Display())
		}
		tw.AppendRow(table.Row{e.ID, e.Type, strings.Join(fields, " "), e.TS})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalAddress(a agreement.Address) string {
	if a.IsZero() {
		return "-"
	}
	return a.String()
}

func signedAt(done bool, ts uint64) string {
	if !done {
		return "no"
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}
