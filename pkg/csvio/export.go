package csvio

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"
)

// Export writes the catalog of the given projects, or of every project when none
// is given. Rows follow the hierarchy: each project, then its suites, each suite
// followed by its cases and each case by its steps.
func Export(ctx context.Context, store storage.CatalogStore, w io.Writer, projectIDs ...int64) error {
	var projects []models.Project
	if len(projectIDs) == 0 {
		all, err := store.ListProjects(ctx)
		if err != nil {
			return err
		}
		projects = all
	}
	for _, id := range projectIDs {
		p, err := store.GetProject(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("project %d not found", id)
		}
		projects = append(projects, *p)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, p := range projects {
		if err := exportProject(ctx, store, cw, p); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportProject(ctx context.Context, store storage.CatalogStore, cw *csv.Writer, p models.Project) error {
	rows := [][]string{{p.Name, TypeProject, "", p.Name, p.Description, "", "", "", "", ""}}

	suites, err := store.ListSuites(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, suite := range suites {
		rows = append(rows, []string{p.Name, TypeSuite, p.Name, suite.Name, suite.Description, "", "", "", "", ""})

		cases, err := store.CasesForSuite(ctx, suite.ID)
		if err != nil {
			return err
		}
		for _, tc := range cases {
			rows = append(rows, []string{p.Name, TypeCase, suite.Name, tc.Title, tc.Description, "", tc.Status, tc.Priority, tc.Prerequisites, ""})

			steps, err := store.ListSteps(ctx, tc.ID)
			if err != nil {
				return err
			}
			for _, st := range steps {
				rows = append(rows, []string{p.Name, TypeStep, tc.Title, "", st.Description, strconv.Itoa(st.Order), "", "", "", st.ExpectedResult})
			}
		}
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write project %q: %w", p.Name, err)
	}
	return nil
}

var reportHeader = []string{
	"test_case_id", "suite_id", "title", "status", "executed_by", "executed_at", "environment", "result_detail", "notes",
}

// WriteSessionReport writes one row per execution of the session.
func WriteSessionReport(w io.Writer, detail *models.SessionDetail) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, ce := range detail.Executions {
		executedAt := ""
		if ce.Execution.ExecutedAt != nil {
			executedAt = ce.Execution.ExecutedAt.UTC().Format(time.RFC3339)
		}
		err := cw.Write([]string{
			strconv.FormatInt(ce.TestCase.ID, 10),
			strconv.FormatInt(ce.TestCase.SuiteID, 10),
			ce.TestCase.Title,
			ce.Execution.Status,
			ce.Execution.ExecutedBy,
			executedAt,
			ce.Execution.Environment,
			ce.Execution.ResultDetail,
			ce.Execution.Notes,
		})
		if err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
