package cli

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/csvio"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newCSVCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Import or export the test catalog as CSV",
	}
	cmd.AddCommand(newCSVImportCommand(a), newCSVExportCommand(a))
	return cmd
}

type csvImportFlags struct {
	quiet bool
}

func newCSVImportCommand(a *App) *cobra.Command {
	flags := &csvImportFlags{}
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create or update projects, suites, cases and steps from a CSV file",
		Long: `Import a catalog CSV file in one transaction. Any invalid row rolls the whole import back.

Columns:
  project_name,type,parent,name,description,order,status,priority,prerequisites,expected_result

UTF-8 (with or without BOM) and Shift_JIS files are accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.importCSV(cmd, args[0], flags)
		},
	}
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Do not draw a progress bar")
	return cmd
}

func (a *App) importCSV(cmd *cobra.Command, file string, flags *csvImportFlags) error {
	f, err := a.Fs.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	store, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	importer := csvio.NewImporter(store, a.Logger)
	var bar *progressbar.ProgressBar
	if !flags.quiet {
		importer.OnRow = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription(color.CyanString("Importing rows")),
					progressbar.OptionSetWriter(a.Stderr),
					progressbar.OptionSetWidth(40),
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionOnCompletion(func() {
						fmt.Fprint(a.Stderr, "\n")
					}),
				)
			}
			bar.Set(done)
		}
	}

	stats, err := importer.Import(cmd.Context(), f)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("import failed: %v", err))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("imported %d rows", stats.Rows())+
		fmt.Sprintf(" (projects: %d, suites: %d, cases: %d, steps: %d)", stats.Projects, stats.Suites, stats.Cases, stats.Steps))
	return nil
}

type csvExportFlags struct {
	output   string
	projects []int64
	upload   bool
}

func newCSVExportCommand(a *App) *cobra.Command {
	flags := &csvExportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the test catalog as CSV",
		Long: `Export projects with their suites, cases and steps.

Examples:
  # Export everything to stdout
  testmanager csv export

  # Export two projects to a file
  testmanager csv export --project 1 --project 3 -o catalog.csv

  # Store the export in the artifact bucket
  testmanager csv export --upload`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.exportCSV(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "File to write (default stdout)")
	cmd.Flags().Int64SliceVar(&flags.projects, "project", nil, "Project ID to export (repeatable, default all)")
	cmd.Flags().BoolVar(&flags.upload, "upload", false, "Upload the export to the artifact store and print its URL")
	return cmd
}

func (a *App) exportCSV(cmd *cobra.Command, flags *csvExportFlags) error {
	ctx := cmd.Context()
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, id := range flags.projects {
		project, err := store.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if project == nil {
			return fmt.Errorf("project %d not found", id)
		}
	}

	var buf bytes.Buffer
	if err := csvio.Export(ctx, store, &buf, flags.projects...); err != nil {
		return err
	}

	if flags.upload {
		artifactStore, err := a.openArtifacts(ctx)
		if err != nil {
			return err
		}
		objectName := path.Join("exports", exportName(flags.projects))
		url, err := artifactStore.StoreArtifact(ctx, objectName, &buf, int64(buf.Len()), "text/csv")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	}

	if flags.output == "" {
		_, err := io.Copy(cmd.OutOrStdout(), &buf)
		return err
	}
	if err := a.Fs.MkdirAll(filepath.Dir(flags.output), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", flags.output, err)
	}
	if err := afero.WriteFile(a.Fs, flags.output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", flags.output, err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), color.GreenString("wrote %s", flags.output))
	return nil
}

func exportName(projectIDs []int64) string {
	name := "test_data"
	for _, id := range projectIDs {
		name += "_" + strconv.FormatInt(id, 10)
	}
	return name + ".csv"
}
