package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scoreledger/internal/export"
	"scoreledger/internal/roster"
)

var tallyOut string

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the student and teacher roster",
}

var rosterLoadCmd = &cobra.Command{
	Use:   "load FILE.yaml",
	Short: "Upsert students and teachers from a YAML roster file",
	Long: `Upsert students and teachers from a YAML file of the form:

  students:
    - {student_id: "2026001", name: 张三, class: 1班}
  teachers:
    - {name: 李明, subject: 数学, classes: "1班;2班"}

Students are matched by student_id when present, otherwise by name and
class. Teachers are matched by name and subject.`,
	Args: cobra.ExactArgs(1),
	RunE: runRosterLoad,
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List students and teachers",
	RunE:  runRosterList,
}

var tallyCmd = &cobra.Command{
	Use:   "tally",
	Short: "Show each student's total points",
	RunE:  runTally,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Slack bot and the pending reminder",
	RunE: func(cmd *cobra.Command, args []string) error {
		return application.Serve(cmd.Context())
	},
}

func init() {
	rosterCmd.AddCommand(rosterLoadCmd, rosterListCmd)
	tallyCmd.Flags().StringVarP(&tallyOut, "out", "o", "", "Also write the tally to this xlsx file")
}

func runRosterLoad(cmd *cobra.Command, args []string) error {
	file, err := roster.LoadFile(args[0])
	if err != nil {
		return err
	}
	counts, err := application.Store.ImportRoster(cmd.Context(), file.DomainStudents(), file.DomainTeachers())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "students: %d inserted, %d updated; teachers: %d inserted, %d updated\n",
		counts.StudentsInserted, counts.StudentsUpdated, counts.TeachersInserted, counts.TeachersUpdated)
	return nil
}

func runRosterList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	students, err := application.Store.ListStudents(ctx)
	if err != nil {
		return err
	}
	teachers, err := application.Store.ListTeachers(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTUDENT NO\tNAME\tCLASS")
	for _, st := range students {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.ID, st.StudentID, st.Name, st.Class)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "ID\tTEACHER\tSUBJECT\tCLASSES")
	for _, t := range teachers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.ID, t.Name, t.Subject, t.Classes)
	}
	return tw.Flush()
}

func runTally(cmd *cobra.Command, args []string) error {
	totals, err := application.Store.StudentTotals(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tNAME\tCLASS\tTOTAL\tRECORDS")
	for i, t := range totals {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", i+1, t.Student.Name, t.Student.Class, t.TotalPoints.String(), t.RecordCount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if tallyOut == "" {
		return nil
	}
	f, err := os.Create(tallyOut)
	if err != nil {
		return err
	}
	if err := export.WriteTally(f, totals); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func nowIn(loc *time.Location) time.Time {
	if loc == nil {
		return time.Now()
	}
	return time.Now().In(loc)
}
