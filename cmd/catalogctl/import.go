package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalog/internal/core"
)

var importFlags struct {
	entity    string
	mappings  []string
	parallel  int
	failedOut string
}

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Import CSV files into an entity",
	Long: `Import one or more CSV files into an entity.

Rows with an id are upserted, rows without one are created. Relation columns
(e.g. tags on prompts) take comma-separated ids and replace the junction rows
of upserted records. A failed row does not stop the file.`,
	Example: `  catalogctl import --entity prompts --map "Tag IDs=tags" prompts.csv
  catalogctl import -e tags --parallel 4 --failed-out ./failed tags-*.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImportCmd,
}

func init() {
	f := importCmd.Flags()
	f.StringVarP(&importFlags.entity, "entity", "e", "", "entity to import into (required)")
	f.StringArrayVarP(&importFlags.mappings, "map", "m", nil, "header=field mapping (repeatable)")
	f.IntVarP(&importFlags.parallel, "parallel", "p", 0, "files imported at once (default IMPORT_MAX_CONCURRENT)")
	f.StringVar(&importFlags.failedOut, "failed-out", "", "directory for failed-row CSVs")
	_ = importCmd.MarkFlagRequired("entity")
}

// parseMappings turns header=field pairs into a field map.
func parseMappings(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		header, field, ok := strings.Cut(p, "=")
		header, field = strings.TrimSpace(header), strings.TrimSpace(field)
		if !ok || header == "" || field == "" {
			return nil, fmt.Errorf("invalid --map %q: want header=field", p)
		}
		out[header] = field
	}
	return out, nil
}

// fileOutcome is the result of one file. failedPath is the failed-row CSV
// written for it; exportErr is set when that write failed.
type fileOutcome struct {
	path       string
	report     *core.ImportReport
	err        error
	failedPath string
	exportErr  error
}

func runImportCmd(cmd *cobra.Command, files []string) error {
	fieldMap, err := parseMappings(importFlags.mappings)
	if err != nil {
		return err
	}

	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.service.Registry().Get(importFlags.entity); !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownEntity, importFlags.entity)
	}
	if importFlags.failedOut != "" {
		if err := os.MkdirAll(importFlags.failedOut, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", importFlags.failedOut, err)
		}
	}

	limit := importFlags.parallel
	if limit <= 0 {
		limit = a.cfg.Import.MaxConcurrent
	}

	spec := core.ImportSpec{Entity: importFlags.entity, FieldMap: fieldMap}
	outcomes := make([]fileOutcome, len(files))
	failedNames := failedRowsNames(files)
	var printMu sync.Mutex

	// Per-file failures are recorded on the outcome, so one file never
	// stops the others.
	var g errgroup.Group
	g.SetLimit(limit)
	for i, path := range files {
		g.Go(func() error {
			outcome := importFile(cmd.Context(), a.service, spec, path)
			if outcome.err == nil && importFlags.failedOut != "" && outcome.report.FailedCount > 0 {
				out := filepath.Join(importFlags.failedOut, failedNames[i])
				if outcome.exportErr = writeFailedRows(out, outcome.report); outcome.exportErr == nil {
					outcome.failedPath = out
				}
			}
			outcomes[i] = outcome

			printMu.Lock()
			printOutcome(outcome)
			printMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return summarize(outcomes)
}

func importFile(ctx context.Context, svc *core.Service, spec core.ImportSpec, path string) fileOutcome {
	f, err := os.Open(path)
	if err != nil {
		return fileOutcome{path: path, err: err}
	}
	defer f.Close()

	sheet, err := core.ReadSheet(f, filepath.Base(path))
	if err != nil {
		return fileOutcome{path: path, err: err}
	}
	report, err := svc.RunImport(ctx, spec, sheet)
	return fileOutcome{path: path, report: report, err: err}
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func printOutcome(o fileOutcome) {
	if o.err != nil {
		errColor.Printf("✗ %s: %s\n", o.path, core.FormatUserError(o.err))
		return
	}

	r := o.report
	line := fmt.Sprintf("%s: %d imported, %d failed of %d rows (%s)",
		o.path, r.SuccessCount, r.FailedCount, r.TotalRows, r.Duration.Round(time.Millisecond))
	switch {
	case r.Phase != core.PhaseCompleted:
		errColor.Printf("✗ %s [%s]\n", line, r.Phase)
	case r.FailedCount > 0:
		warnColor.Printf("! %s\n", line)
	default:
		okColor.Printf("✓ %s\n", line)
	}

	for _, issue := range r.RelationIssues {
		warnColor.Printf("    %s\n", issue.Message)
	}
	for i, row := range r.Failed() {
		if i == 5 {
			dimColor.Printf("    ... %d more\n", r.FailedCount-i)
			break
		}
		if row.Error != nil {
			dimColor.Printf("    line %d: %s\n", row.Line, row.Error.Message)
		}
	}

	switch {
	case o.exportErr != nil:
		errColor.Printf("    failed rows not written: %v\n", o.exportErr)
	case o.failedPath != "":
		dimColor.Printf("    failed rows written to %s\n", o.failedPath)
	}
}

// failedRowsNames returns the failed-row CSV name for each file:
// "<base>_failed.csv", or "<base>_<n>_failed.csv" with the file's 1-based
// position when several files share a base name.
func failedRowsNames(files []string) []string {
	stems := make([]string, len(files))
	seen := make(map[string]int, len(files))
	for i, path := range files {
		base := filepath.Base(path)
		stems[i] = strings.TrimSuffix(base, filepath.Ext(base))
		seen[stems[i]]++
	}

	names := make([]string, len(files))
	for i, stem := range stems {
		if seen[stem] > 1 {
			names[i] = fmt.Sprintf("%s_%d_failed.csv", stem, i+1)
		} else {
			names[i] = stem + "_failed.csv"
		}
	}
	return names
}

func writeFailedRows(path string, r *core.ImportReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := core.ExportFailedRows(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// summarize prints the totals and fails the command when any file did not
// import cleanly.
func summarize(outcomes []fileOutcome) error {
	var rows, failedRows, unclean int
	for _, o := range outcomes {
		if o.report != nil {
			rows += o.report.SuccessCount
			failedRows += o.report.FailedCount
		}
		if o.err != nil || o.exportErr != nil || o.report.Phase != core.PhaseCompleted || o.report.FailedCount > 0 {
			unclean++
		}
	}

	fmt.Println()
	fmt.Printf("%d file(s), %d row(s) imported, %d row(s) failed\n", len(outcomes), rows, failedRows)
	if unclean > 0 {
		return fmt.Errorf("%d of %d file(s) did not import cleanly", unclean, len(outcomes))
	}
	return nil
}
