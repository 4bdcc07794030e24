// Package main provides the CLI entrypoint for kickshield.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/kickshield/internal/client"
	"github.com/verte-zerg/kickshield/internal/config"
	"github.com/verte-zerg/kickshield/internal/model"
	"github.com/verte-zerg/kickshield/internal/sensor"
	"github.com/verte-zerg/kickshield/internal/stats"
	"github.com/verte-zerg/kickshield/internal/statsui"
	"github.com/verte-zerg/kickshield/internal/store"
	"github.com/verte-zerg/kickshield/internal/tui"
)

var version = "dev"

const (
	defaultListen        = ":8080"
	defaultHistoryWindow = 5
)

var (
	watchAddr string

	historyMode   string
	historySince  string
	historyLast   int
	historyWindow int
	historyFormat string
	historyDB     string
)

func main() {
	if err := fang.Execute(context.Background(), newRootCmd(), fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "kickshield",
		Short:        "Striking-target hit counter",
		Long:         "kickshield samples a shock sensor, counts and scores strikes, and serves live session statistics over HTTP.",
		SilenceUsage: true,
		RunE:         runServeCmd,
	}
	addServeFlags(rootCmd)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newPortsCmd())

	return rootCmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard for a running counter",
		Args:  cobra.NoArgs,
		RunE:  runWatchCmd,
	}
	cmd.Flags().StringVar(&watchAddr, "addr", defaultListen, "counter address (host:port or URL)")
	return cmd
}

func runWatchCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "addr", &watchAddr, fileCfg.Server.Listen)

	dev := client.New(watchAddr)
	program := tea.NewProgram(tui.NewModel(dev, dev.Base()), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show completed sessions",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historyMode, "mode", "", "mode filter (free|10|20|30|60)")
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N sessions")
	cmd.Flags().IntVar(&historyWindow, "window", defaultHistoryWindow, "moving average window for the tempo trend")
	cmd.Flags().StringVar(&historyFormat, "format", "", "output format: table, yaml or json (default: interactive on a terminal)")
	cmd.Flags().StringVar(&historyDB, "db", "", "SQLite database path")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	filter, err := historyFilter()
	if err != nil {
		return err
	}

	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dbPath := config.DefaultDBPath()
	applyStringConfig(cmd, "db", &dbPath, fileCfg.Store.Path)
	if cmd.Flags().Changed("db") {
		dbPath = historyDB
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	format := historyFormat
	if format == "" {
		format = "table"
		if term.IsTerminal(int(os.Stdout.Fd())) {
			program := tea.NewProgram(statsui.NewModel(st, filter, historyWindow), tea.WithAltScreen())
			_, err := program.Run()
			return err
		}
	}

	report, err := stats.BuildReport(cmd.Context(), st, filter)
	if err != nil {
		return err
	}
	switch format {
	case "table":
		if err := stats.RenderSummary(os.Stdout, report.Sessions, historyWindow); err != nil {
			return err
		}
		return stats.RenderSessions(os.Stdout, report.Sessions, time.Now())
	default:
		return stats.Export(os.Stdout, report.Sessions, format)
	}
}

func historyFilter() (model.HistoryFilter, error) {
	filter := model.HistoryFilter{Last: historyLast}
	if historyMode != "" {
		mode, err := model.ParseModeLoose(historyMode)
		if err != nil {
			return filter, fmt.Errorf("invalid --mode value: %w", err)
		}
		filter.Mode = mode.String()
	}
	if historySince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return filter, fmt.Errorf("invalid --since value: %w", err)
		}
		filter.Since = &parsed
	}
	if historyLast < 0 {
		return filter, fmt.Errorf("--last must be >= 0")
	}
	return filter, nil
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE:  runPortsCmd,
	}
}

func runPortsCmd(_ *cobra.Command, _ []string) error {
	ports, err := sensor.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		logErrln("No serial ports found.")
		return nil
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%s\tusb %s:%s %s\n", p.Name, p.VID, p.PID, p.SerialNumber)
			continue
		}
		fmt.Println(p.Name)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(config.Template), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil || cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
