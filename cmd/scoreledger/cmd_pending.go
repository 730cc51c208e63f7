package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"scoreledger/internal/domain"
	"scoreledger/internal/export"
	"scoreledger/internal/pending"
	"scoreledger/internal/resolve"
)

var (
	pendingStatus string
	pendingOut    string
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Review records that could not be bound to a student",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending records",
	RunE:  runPendingList,
}

var pendingResolveCmd = &cobra.Command{
	Use:   "resolve ID=STUDENT...",
	Short: "Bind pending records to students and commit them",
	Long: `Bind each pending record to a student id and write its ledger entry.
Each pair succeeds or fails on its own.

Example:
  scoreledger pending resolve 12=305 13=311`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPendingResolve,
}

var pendingRejectCmd = &cobra.Command{
	Use:   "reject ID...",
	Short: "Reject pending records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPendingReject,
}

var pendingExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pending records to an xlsx workbook",
	RunE:  runPendingExport,
}

func init() {
	pendingListCmd.Flags().StringVar(&pendingStatus, "status", "pending", "Filter by status: pending, resolved, rejected or all")
	pendingExportCmd.Flags().StringVar(&pendingStatus, "status", "pending", "Filter by status: pending, resolved, rejected or all")
	pendingExportCmd.Flags().StringVarP(&pendingOut, "out", "o", "", "Output file (default: <pending_export_dir>/pending-<date>.xlsx)")

	pendingCmd.AddCommand(pendingListCmd, pendingResolveCmd, pendingRejectCmd, pendingExportCmd)
}

func statusFilter() domain.PendingStatus {
	if strings.EqualFold(pendingStatus, "all") {
		return ""
	}
	return domain.PendingStatus(strings.ToLower(pendingStatus))
}

func runPendingList(cmd *cobra.Command, args []string) error {
	records, err := application.Pending.List(cmd.Context(), statusFilter())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No records.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNAME\tCLASS\tREASON\tPOINTS\tTEACHER\tWHY\tSUGGESTIONS")
	for _, rec := range records {
		c := rec.Candidate
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Status, c.StudentNameRaw, c.ClassRaw, c.Reason, c.Points.String(),
			c.TeacherNameRaw, rec.UnboundReason, joinIDs(rec.Suggestions))
	}
	return tw.Flush()
}

func runPendingResolve(cmd *cobra.Command, args []string) error {
	items := make([]pending.Resolution, 0, len(args))
	for _, arg := range args {
		left, right, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid pair %q, want ID=STUDENT", arg)
		}
		id, err := strconv.ParseInt(left, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid pending id in %q: %w", arg, err)
		}
		sid, err := strconv.ParseInt(right, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid student id in %q: %w", arg, err)
		}
		items = append(items, pending.Resolution{ID: id, StudentID: sid})
	}

	outcomes := application.Pending.ResolveBatch(cmd.Context(), items)
	return printOutcomes(cmd, "resolved", outcomes)
}

func runPendingReject(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid pending id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	outcomes := application.Pending.RejectBatch(cmd.Context(), ids)
	return printOutcomes(cmd, "rejected", outcomes)
}

func printOutcomes(cmd *cobra.Command, verb string, outcomes []pending.Outcome) error {
	out := cmd.OutOrStdout()
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(out, "✗ #%d: %v\n", o.ID, o.Err)
		case o.Entry != nil:
			fmt.Fprintf(out, "✓ #%d %s → score #%d\n", o.ID, verb, o.Entry.ID)
		default:
			fmt.Fprintf(out, "✓ #%d %s\n", o.ID, verb)
		}
	}
	if failed := pending.Failed(outcomes); failed > 0 {
		return fmt.Errorf("%d of %d failed", failed, len(outcomes))
	}
	return nil
}

func runPendingExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	records, err := application.Pending.List(ctx, statusFilter())
	if err != nil {
		return err
	}
	snap, err := resolve.TakeSnapshot(ctx, application.Store)
	if err != nil {
		return err
	}

	path := pendingOut
	if path == "" {
		cfg := application.Config
		if err := os.MkdirAll(cfg.PendingExportDir, 0o755); err != nil {
			return err
		}
		path = filepath.Join(cfg.PendingExportDir, "pending-"+nowIn(cfg.Location).Format("20060102-150405")+".xlsx")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WritePending(f, records, snap); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(records), path)
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
