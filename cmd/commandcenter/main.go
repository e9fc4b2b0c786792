// Command commandcenter resolves commands, runs workflows and serves the
// HTTP and WebSocket API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/app"
	"github.com/opentalon/commandcenter/internal/command"
	"github.com/opentalon/commandcenter/internal/commander"
	"github.com/opentalon/commandcenter/internal/config"
	"github.com/opentalon/commandcenter/internal/logging"
	"github.com/opentalon/commandcenter/internal/version"
)

// errFailed makes the process exit non-zero after the outcome was printed.
var errFailed = errors.New("command failed")

type cli struct {
	configPath string
	logLevel   string
	jsonOut    bool

	cfg      *config.Config
	logger   *zap.Logger
	closeLog func() error
}

func main() {
	c := &cli{}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := c.root().ExecuteContext(ctx)
	stop()
	if err != nil {
		// errFailed on its own means the outcome was already printed.
		if err != errFailed {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "commandcenter",
		Short:         "Resolve commands and orchestrate workflows across providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.setup()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.closeLog == nil {
				return nil
			}
			return c.closeLog()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		c.execCmd(),
		c.workflowCmd(),
		c.historyCmd(),
		c.serveCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) setup() error {
	var err error
	if c.configPath != "" {
		c.cfg, err = config.Load(c.configPath)
	} else {
		c.cfg, err = config.Parse(nil)
	}
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		c.cfg.Log.Level = c.logLevel
	}
	c.logger, c.closeLog, err = logging.New(c.cfg.Log)
	return err
}

// build assembles the application. Relative paths in the config resolve
// against the config file's directory.
func (c *cli) build(ctx context.Context) (*app.App, error) {
	var opts []app.Option
	if c.configPath != "" {
		opts = append(opts, app.WithBaseDir(filepath.Dir(c.configPath)))
	}
	return app.Build(ctx, c.cfg, c.logger, opts...)
}

func (c *cli) execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command text...>",
		Short: "Resolve and dispatch one command",
		Long: `Resolve and dispatch one command. A single argument is taken as the
whole command line; several arguments keep their shell grouping.`,
		Example: `  commandcenter exec memory remember note "buy milk"
  commandcenter exec "what's stored about the server?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a, &err)

			res := a.Commander.ResolveAndDispatch(cmd.Context(), commandLine(args))
			if c.jsonOut {
				return c.printJSON(cmd, res, res.OK)
			}
			if res.OK {
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), res.Message)
			for _, s := range res.Suggestions {
				fmt.Fprintf(cmd.ErrOrStderr(), "  did you mean: %s\n", s)
			}
			return errFailed
		},
	}
}

// closeApp closes a and adds any close error to *err, so a failed flush is
// never lost.
func closeApp(a *app.App, err *error) {
	if cerr := a.Close(); cerr != nil {
		*err = errors.Join(*err, cerr)
	}
}

// commandLine rebuilds the text the user typed. Arguments the shell grouped
// are quoted again so the parser sees the same tokens.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return command.JoinArgs(args)
}

func (c *cli) workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "List and run workflows",
	}
	wf.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a, &err)

			defs := a.Commander.Workflows()
			if c.jsonOut {
				return c.printJSON(cmd, defs, true)
			}
			if len(defs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workflows configured.")
				return nil
			}
			for _, d := range defs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d steps\t%s\n", d.Name, len(d.Steps), d.Description)
			}
			return nil
		},
	})
	wf.AddCommand(&cobra.Command{
		Use:     "run <name> [key=value...]",
		Short:   "Run a workflow with an optional payload",
		Example: "  commandcenter workflow run research topic=\"rate limiting\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			payload, err := commander.PayloadFromPairs(args[1:])
			if err != nil {
				return err
			}
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a, &err)

			res := a.Commander.RunWorkflow(cmd.Context(), args[0], payload)
			if c.jsonOut {
				return c.printJSON(cmd, res, res.OK())
			}
			out := cmd.OutOrStdout()
			if !res.OK() {
				out = cmd.ErrOrStderr()
			}
			fmt.Fprintln(out, res.Summary())
			for _, s := range res.Steps {
				if s.OK {
					fmt.Fprintf(out, "  %s: ok\n", s.Name)
				} else {
					fmt.Fprintf(out, "  %s: failed (%s)\n", s.Name, s.Error)
				}
			}
			if res.PersistedKey != "" {
				fmt.Fprintf(out, "Saved as %s\n", res.PersistedKey)
			}
			if !res.OK() {
				return errFailed
			}
			return nil
		},
	})
	return wf
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a, &err)

			entries, err := a.Commander.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, entries, true)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No history yet.")
				return nil
			}
			for _, e := range entries {
				status := "ok"
				if !e.OK {
					status = "failed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), status, e.CommandText)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", commander.DefaultHistoryLimit, "number of entries to show")
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP/WebSocket API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if listen != "" {
				c.cfg.Server.Listen = listen
			}
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a, &err)
			c.logger.Info("starting", zap.String("version", version.Get().Version), zap.String("listen", c.cfg.Server.Listen))
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override server.listen")
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.jsonOut {
				return c.printJSON(cmd, version.Get(), true)
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Get())
			return nil
		},
	}
}

func (c *cli) printJSON(cmd *cobra.Command, v any, ok bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if !ok {
		return errFailed
	}
	return nil
}
