package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"scoreledger/internal/domain"
	"scoreledger/internal/importer"
)

var (
	importPayloadPath string
	importTeacherOnly string
	importRawOut      string
	importJSON        bool
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import score records from free-form text",
	Long: `Read free-form text from a file (or stdin when the file is omitted or
"-"), extract score records with the configured model, and commit, queue or
set aside each one.

With --payload the model is skipped and an already extracted payload, for
example one repaired by hand after a malformed response, is imported.

Records that name only a teacher are listed and left alone unless
--teacher-only is given:
  teacher - record the points against the teacher
  student - queue them for manual student assignment
  discard - drop them (an audit row is kept)`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importPayloadPath, "payload", "", "Import an extracted payload file instead of calling the model")
	importCmd.Flags().StringVar(&importTeacherOnly, "teacher-only", "", "Disposition for teacher-only records: teacher, student or discard")
	importCmd.Flags().StringVar(&importRawOut, "raw-out", "", "Write the raw model output here when it cannot be parsed")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "Print the summary as JSON")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var disposition importer.Disposition
	if importTeacherOnly != "" {
		d, err := importer.ParseDisposition(importTeacherOnly)
		if err != nil {
			return err
		}
		disposition = d
	}

	var (
		imp *importer.Orchestrator
		res importer.Result
	)
	if importPayloadPath != "" {
		imp = application.PayloadImporter()
		payload, err := os.ReadFile(importPayloadPath)
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
		res, err = imp.ImportPayload(ctx, string(payload))
		if err != nil {
			return handleMalformed(err)
		}
	} else {
		text, err := readInput(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("no input text")
		}
		if imp, err = application.Importer(); err != nil {
			return err
		}
		res, err = imp.ImportText(ctx, text)
		if err != nil {
			return handleMalformed(err)
		}
	}

	out := cmd.OutOrStdout()
	if importJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Summary()); err != nil {
			return err
		}
	} else {
		printImportResult(out, res)
	}

	if len(res.TeacherOnly) == 0 || disposition == "" {
		return nil
	}
	tres, err := imp.ProcessTeacherOnly(ctx, res.TeacherOnly, disposition)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "teacher-only (%s): recorded=%d queued=%d discarded=%d errors=%d\n",
		disposition, len(tres.Recorded), len(tres.Queued), tres.Discarded, len(tres.Errors))
	for _, e := range tres.Errors {
		fmt.Fprintf(out, "  ✗ %s\n", e)
	}
	return nil
}

func handleMalformed(err error) error {
	var malformed *domain.MalformedResponseError
	if !errors.As(err, &malformed) || importRawOut == "" {
		return err
	}
	if werr := os.WriteFile(importRawOut, []byte(malformed.Raw), 0o644); werr != nil {
		return fmt.Errorf("%w (and saving raw output failed: %v)", err, werr)
	}
	return fmt.Errorf("%w; raw output saved to %s, fix it and re-run with --payload %s", err, importRawOut, importRawOut)
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

func printImportResult(w io.Writer, res importer.Result) {
	sum := res.Summary()
	fmt.Fprintf(w, "batch %s: total=%d committed=%d pending=%d teacher-only=%d errors=%d\n",
		res.BatchID, res.Total, sum.SuccessCount, sum.PendingCount, sum.TeacherOnlyCount, sum.ErrorCount)
	for _, e := range res.Committed {
		fmt.Fprintf(w, "  ✓ score #%d student #%d %s %s\n", e.ID, e.StudentID, e.Points.String(), e.Reason)
	}
	for _, rec := range res.Pending {
		fmt.Fprintf(w, "  … pending #%d %q %s %s [%s]\n", rec.ID, rec.Candidate.StudentNameRaw, rec.Candidate.ClassRaw, rec.Candidate.Reason, rec.UnboundReason)
	}
	for _, item := range res.TeacherOnly {
		teacher := item.Candidate.TeacherNameRaw
		if item.Teacher != nil {
			teacher = item.Teacher.Name
		}
		fmt.Fprintf(w, "  ? teacher-only item %d %s %s (%s)\n", item.Candidate.Index, teacher, item.Candidate.Reason, item.Why)
	}
	for _, msg := range sum.Errors {
		fmt.Fprintf(w, "  ✗ %s\n", msg)
	}
	if len(res.Observations) > 0 {
		fmt.Fprintf(w, "  observations stored: %d\n", len(res.Observations))
	}
}
