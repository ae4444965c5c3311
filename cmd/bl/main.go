package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"blockline/internal/app"
	"blockline/internal/config"
	"blockline/internal/domain"
	"blockline/internal/engine"
	"blockline/internal/outline"
	"blockline/internal/repo"
	"blockline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Blockline CLI",
	Long: `Blockline keeps tasks as a graph: an arrow from one task to another means
the first blocks the second.
- Outline: write tasks one per line; indentation makes a child block its parent,
  and "x] ... [x" joints wire tasks across lines. "#12" edits a stored task.
- Complete: archiving a task archives everything it leads to; revert goes back.
- Delete: two steps, the first hands out a token the second must show.
- Grants: let another user view or edit the tasks assigned to you.
- Event log: every change is recorded, view with 'bl log tail'.`,
	SilenceUsage: true,
}

var overridable = []string{
	"server.addr",
	"server.base_path",
	"server.workers",
	"auth.jwt_secret",
	"auth.allow_user_header",
	"auth.dev_login",
	"propagation.complete",
	"deletion.token_ttl",
	"search.limit",
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
	viper.SetEnvPrefix("BLOCKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for _, key := range overridable {
		_ = viper.BindEnv(key)
	}
	viper.SetDefault("user", os.Getenv("USER"))
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("user", "u", "", "acting user (default $USER)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/blockline.yml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "user", "json", "config", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(outlineCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(focusCmd())
	rootCmd.AddCommand(transitionCmd("complete", false))
	rootCmd.AddCommand(transitionCmd("revert", true))
	rootCmd.AddCommand(starCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, a default config and the first user",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				name, err := actorName()
				if err != nil {
					return err
				}
				u, created, err := w.Bootstrap(ctx, name)
				if err != nil {
					return err
				}
				switch {
				case created:
					fmt.Printf("created user %s (%s)\n", u.Name, u.TZ)
				case u.Name == "":
					fmt.Printf("workspace already has users; ask one of them to run 'bl user add %s'\n", name)
				default:
					fmt.Printf("user %s already exists\n", u.Name)
				}
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.LoadConfig(workspaceOptions())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			if c.Auth.JWTSecret != "" {
				c.Auth.JWTSecret = "********"
			}
			return yaml.NewEncoder(os.Stdout).Encode(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default configuration",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(config.GenerateDefault())
		},
	})
	return cfg
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}

	var tz string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				u, err := w.Engine.CreateUser(ctx, args[0], tz)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	add.Flags().StringVar(&tz, "tz", "UTC", "IANA timezone used to read dates")
	user.AddCommand(add)

	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				users, err := w.Engine.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("Name", "Timezone", "Since")
				for _, u := range users {
					tw.AppendRow(table.Row{u.Name, u.TZ, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	user.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the acting user and their grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				info, err := e.UserInfo(ctx, actor)
				if err != nil {
					return err
				}
				return printUserInfo(info)
			})
		},
	})

	user.AddCommand(&cobra.Command{
		Use:   "tz <zone>",
		Short: "Change the acting user's timezone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				u, err := e.SetTimezone(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	})
	return user
}

func grantCmd() *cobra.Command {
	var edit, view, revoke bool
	cmd := &cobra.Command{
		Use:   "grant <user>",
		Short: "Let another user view or edit your tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var level *bool
			switch {
			case revoke:
			case edit:
				level = &edit
			default:
				level = new(bool)
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				perm, err := e.Grant(ctx, actor, args[0], level)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(perm)
				}
				switch {
				case level == nil:
					fmt.Printf("%s can no longer see your tasks\n", perm.Subject)
				case perm.Edit:
					fmt.Printf("%s can edit your tasks\n", perm.Subject)
				default:
					fmt.Printf("%s can view your tasks\n", perm.Subject)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&edit, "edit", false, "grant edit")
	cmd.Flags().BoolVar(&view, "view", false, "grant view only (default)")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "remove any grant")
	cmd.MarkFlagsMutuallyExclusive("edit", "view", "revoke")
	return cmd
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a key; the secret is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "name": key.Name, "key": secret})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	keys.AddCommand(create)

	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				items, err := e.APIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	keys.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete one of your keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				return e.RevokeAPIKey(ctx, actor, args[0])
			})
		},
	})
	return keys
}

func outlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outline [file|-]",
		Short: "Submit an outline of tasks, or a slash command",
		Long: `Reads text from the file, or from stdin when the file is "-" or missing.
The text is an outline of tasks or a single /help, /user or /search command.

` + outline.Help,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 0 || args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				reply, err := e.Text(ctx, actor, string(data))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reply)
				}
				switch reply.Kind {
				case engine.ReplyTasks:
					counts := reply.Counts()
					fmt.Printf("created %d, updated %d\n", counts.Created, counts.Updated)
				case engine.ReplyHelp:
					fmt.Print(reply.Help)
				case engine.ReplyUser:
					return printUserInfo(*reply.User)
				case engine.ReplySearch:
					printTasks(reply.Tasks)
				}
				return nil
			})
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [terms...]",
		Short: "Search visible tasks",
		Long: `Terms: bare words match titles; is:|not: archived, starred, leaf, root;
weight:1..5; startable:, deadline:, created:, updated: take date ranges like 5/1..5/31;
title:, assign:, link: take a word or /regex/; context:>#12 follows arrows
out of #12 and context:<#12 into it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := outline.ParseCondition(args)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				tasks, err := e.Search(ctx, actor, cond)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
}

func focusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "focus <id>",
		Short: "Show a task with what blocks it and what it blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseTaskID(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				f, err := e.Focus(ctx, actor, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(f)
				}
				printTasks([]domain.Task{f.Task})
				if len(f.Sources) > 0 {
					fmt.Println("blocked by:")
					printTasks(f.Sources)
				}
				if len(f.Targets) > 0 {
					fmt.Println("blocks:")
					printTasks(f.Targets)
				}
				return nil
			})
		},
	}
}

func transitionCmd(use string, revert bool) *cobra.Command {
	short := "Archive tasks and everything they lead to"
	if revert {
		short = "Unarchive tasks and everything leading to them"
	}
	return &cobra.Command{
		Use:   use + " <ids...>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				res, err := e.Transition(ctx, actor, ids, revert)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %d tasks (%d carried along)\n", use, res.Count, res.Chain)
				return nil
			})
		},
	}
}

func starCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "star <id>",
		Short: "Toggle the star on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseTaskID(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				starred, err := e.Star(ctx, actor, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": id, "starred": starred})
				}
				fmt.Printf("%s starred=%t\n", id, starred)
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	var token string
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <ids...>",
		Short: "Delete your tasks (two steps)",
		Long: `Without --token this prints a confirmation token. Run the same command
again with --token to delete. --yes does both steps at once.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor string) error {
				res, err := e.Delete(ctx, actor, ids, token)
				if err != nil {
					return err
				}
				if res.Token != "" && yes {
					res, err = e.Delete(ctx, actor, ids, res.Token)
					if err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Token != "" {
					fmt.Printf("confirm before %s with:\n  bl delete %s --token %s\n", res.ExpiresAt, strings.Join(args, " "), res.Token)
					return nil
				}
				fmt.Printf("deleted %d tasks\n", res.Deleted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "confirmation token from the first step")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation step")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that changed: batches, completions, deletions, grants and keys.",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				events, err := w.Engine.Repo.LatestEvents(ctx, repo.EventFilter{
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor", "Payload")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, strings.TrimSpace(evt.EntityKind + " " + evt.EntityID), evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := newLogger(slog.LevelInfo)
			w, err := app.Open(ctx, workspaceOptions())
			if err != nil {
				return err
			}
			defer w.Close()
			w.Engine.Logger = logger
			cfg := w.Config

			authCfg := server.AuthConfig{
				JWTSecret:       cfg.Auth.JWTSecret,
				AllowUserHeader: cfg.Auth.AllowUserHeader,
				DevLogin:        cfg.Auth.DevLogin,
				Logger:          logger,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowUserHeader {
				return fmt.Errorf("auth.jwt_secret (BLOCKLINE_AUTH_JWT_SECRET) is required unless auth.allow_user_header is set")
			}
			handler, err := server.New(server.Config{
				Engine:   w.Engine,
				Pool:     engine.NewPool(cfg.Server.Workers),
				BasePath: cfg.Server.BasePath,
				Auth:     authCfg,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving blockline api",
				"addr", cfg.Server.Addr,
				"base_path", cfg.Server.BasePath,
				"workers", cfg.Server.Workers,
				"openapi", cfg.Server.BasePath+"/openapi.json",
				"docs", "/docs",
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("base-path", "", "API base path (overrides server.base_path)")
	cmd.Flags().Int("workers", 0, "concurrent operations (overrides server.workers)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	_ = viper.BindPFlag("server.workers", cmd.Flags().Lookup("workers"))
	return cmd
}

// --- helpers ---

func newLogger(level slog.Level) *slog.Logger {
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func workspaceOptions() app.Options {
	return app.Options{
		Dir:        viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Override:   applyOverrides,
		Logger:     newLogger(slog.LevelWarn),
	}
}

// applyOverrides copies flags and BLOCKLINE_* variables over the file config.
func applyOverrides(c *config.Config) {
	set := func(key string) bool {
		v := viper.Get(key)
		return v != nil && v != "" && v != 0
	}
	if set("server.addr") {
		c.Server.Addr = viper.GetString("server.addr")
	}
	if set("server.base_path") {
		c.Server.BasePath = viper.GetString("server.base_path")
	}
	if set("server.workers") && viper.GetInt("server.workers") > 0 {
		c.Server.Workers = viper.GetInt("server.workers")
	}
	if set("auth.jwt_secret") {
		c.Auth.JWTSecret = viper.GetString("auth.jwt_secret")
	}
	if set("auth.allow_user_header") {
		c.Auth.AllowUserHeader = viper.GetBool("auth.allow_user_header")
	}
	if set("auth.dev_login") {
		c.Auth.DevLogin = viper.GetBool("auth.dev_login")
	}
	if set("propagation.complete") {
		c.Propagation.Complete = viper.GetString("propagation.complete")
	}
	if set("deletion.token_ttl") {
		c.Deletion.TokenTTL = viper.GetDuration("deletion.token_ttl")
	}
	if set("search.limit") && viper.GetInt("search.limit") > 0 {
		c.Search.Limit = viper.GetInt("search.limit")
	}
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	w, err := app.Open(ctx, workspaceOptions())
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(ctx, w)
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	name, err := actorName()
	if err != nil {
		return err
	}
	return withWorkspace(ctx, func(ctx context.Context, w *app.Workspace) error {
		return fn(ctx, w.Engine, name)
	})
}

func actorName() (string, error) {
	name := strings.TrimSpace(viper.GetString("user"))
	if name == "" {
		return "", errors.New("--user (or BLOCKLINE_USER) is required")
	}
	return name, nil
}

func parseIDs(args []string) ([]domain.TaskID, error) {
	var ids []domain.TaskID
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part == "" {
				continue
			}
			id, err := domain.ParseTaskID(part)
			if err != nil {
				return nil, fmt.Errorf("invalid task id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printTasks(tasks []domain.Task) {
	tw := newTable("ID", "", "Title", "Assign", "Startable", "Deadline", "Weight")
	for _, t := range tasks {
		mark := ""
		if t.Starred {
			mark += "*"
		}
		if t.Archived {
			mark += "x"
		}
		weight := ""
		if t.Weight != nil {
			weight = fmt.Sprintf("%g", *t.Weight)
		}
		tw.AppendRow(table.Row{t.ID, mark, t.Title, "@" + t.Assign, derefOr(t.Startable), derefOr(t.Deadline), weight})
	}
	tw.Render()
}

func printUserInfo(info domain.UserInfo) error {
	if viper.GetBool("json") {
		return printJSON(info)
	}
	tw := newTable("Field", "Value")
	tw.AppendRows([]table.Row{
		{"name", info.Name},
		{"since", info.Since},
		{"timezone", info.TZ},
		{"executed", info.Executed},
		{"can view me", strings.Join(info.ViewTo, ", ")},
		{"can edit me", strings.Join(info.EditTo, ", ")},
		{"I can view", strings.Join(info.ViewFrom, ", ")},
		{"I can edit", strings.Join(info.EditFrom, ", ")},
	})
	tw.Render()
	return nil
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

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
