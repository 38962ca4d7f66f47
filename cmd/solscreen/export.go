package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solscreen/solscreen/internal/export"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a table as JSON or CSV",
		RunE:  runExport,
	}
	cmd.Flags().String("table", "snapshots", "Table to export")
	cmd.Flags().String("format", "json", "Output format (json|csv)")
	cmd.Flags().String("out", "-", "Output path (- = stdout)")
	cmd.Flags().Int("limit", 0, "Max rows (0 = all)")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	table, _ := cmd.Flags().GetString("table")
	return exportTable(cmd, table)
}

func exportTable(cmd *cobra.Command, table string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	formatStr, _ := cmd.Flags().GetString("format")
	format, err := export.ParseFormat(formatStr)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := rt.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := export.ToFile(cmd.Context(), s, out, table, format, limit)
	if err != nil {
		return err
	}
	rt.log.Info().Str("table", table).Int("rows", n).Str("out", out).Msg("export done")
	return nil
}

func newDumpWatchlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump-watchlist",
		Short: "Show pairs currently tracked by the dump state machine",
		RunE:  runDumpWatchlist,
	}
	cmd.Flags().String("state", "", "Filter by state (DUMPING|BOTTOMING|SIGNAL)")
	cmd.Flags().Int("limit", 50, "Max entries")
	return cmd
}

func runDumpWatchlist(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	state, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := rt.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.IterateDumpWatchlist(cmd.Context(), state, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("dump watchlist is empty")
		return nil
	}

	fmt.Printf("%-44s %-10s %12s %12s %12s %8s\n", "PAIR", "STATE", "PEAK", "LOW", "LAST", "DROP%")
	for _, e := range entries {
		fmt.Printf("%-44s %-10s %12.6g %12.6g %12.6g %8.1f\n",
			e.PairAddress, e.State, e.PeakPrice, e.LowPrice, e.LastPrice, e.DropPct)
	}
	return nil
}

func newDumpWatchlistExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump-watchlist-export",
		Short: "Export the dump watchlist as JSON or CSV",
		RunE:  runDumpWatchlistExport,
	}
	cmd.Flags().String("format", "json", "Output format (json|csv)")
	cmd.Flags().String("out", "-", "Output path (- = stdout)")
	cmd.Flags().String("state", "", "Filter by state (DUMPING|BOTTOMING|SIGNAL)")
	cmd.Flags().Int("limit", 0, "Max rows (0 = all)")
	return cmd
}

func runDumpWatchlistExport(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	formatStr, _ := cmd.Flags().GetString("format")
	format, err := export.ParseFormat(formatStr)
	if err != nil {
		return err
	}
	state, _ := cmd.Flags().GetString("state")
	limit, _ := cmd.Flags().GetInt("limit")
	out, _ := cmd.Flags().GetString("out")

	s, err := rt.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	w := os.Stdout
	if out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	n, err := export.DumpWatchlist(cmd.Context(), s, w, format, state, limit)
	if err != nil {
		return err
	}
	rt.log.Info().Int("rows", n).Str("out", out).Msg("dump watchlist exported")
	return nil
}
