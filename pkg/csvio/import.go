package csvio

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"
)

// ImportStats counts the rows applied per type.
type ImportStats struct {
	Projects int `json:"projects"`
	Suites   int `json:"suites"`
	Cases    int `json:"cases"`
	Steps    int `json:"steps"`
}

// Rows returns the total number of applied rows.
func (s ImportStats) Rows() int {
	return s.Projects + s.Suites + s.Cases + s.Steps
}

// Importer applies catalog files with update-or-create semantics.
type Importer struct {
	store  storage.Store
	logger *slog.Logger
	// OnRow, when set, is called after each applied row with the running count and the total.
	OnRow func(done, total int)
}

// NewImporter creates an Importer writing to store.
func NewImporter(store storage.Store, logger *slog.Logger) *Importer {
	return &Importer{store: store, logger: logger}
}

// Import decodes r and applies every row in one transaction. Any bad row rolls
// back the whole file.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportStats, error) {
	decoded, err := Decode(r)
	if err != nil {
		return nil, err
	}
	records, err := readRecords(decoded)
	if err != nil {
		return nil, err
	}

	stats := &ImportStats{}
	err = im.store.InTx(ctx, func(ctx context.Context) error {
		st := &importState{store: im.store, projects: make(map[string]*models.Project)}
		for i, rec := range records {
			if err := st.apply(ctx, rec, stats); err != nil {
				var fe *FormatError
				if errors.As(err, &fe) {
					fe.Row = i + 1
					return fe
				}
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			if im.OnRow != nil {
				im.OnRow(i+1, len(records))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	im.logger.Info("Catalog CSV imported",
		slog.Int("projects", stats.Projects),
		slog.Int("suites", stats.Suites),
		slog.Int("cases", stats.Cases),
		slog.Int("steps", stats.Steps))
	return stats, nil
}

// record is one data row keyed by column name.
type record map[string]string

func readRecords(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &FormatError{Message: "empty file"}
	}
	if err != nil {
		return nil, &FormatError{Message: err.Error()}
	}
	if len(header) != len(Header) {
		return nil, &FormatError{Message: fmt.Sprintf("expected %d columns, got %d", len(Header), len(header))}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	for _, want := range Header {
		found := false
		for _, h := range header {
			if h == want {
				found = true
				break
			}
		}
		if !found {
			return nil, &FormatError{Message: fmt.Sprintf("missing required header %q", want)}
		}
	}

	var records []record
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &FormatError{Row: row, Message: err.Error()}
		}
		if len(fields) != len(header) {
			return nil, &FormatError{Row: row, Message: fmt.Sprintf("expected %d fields, got %d", len(header), len(fields))}
		}
		rec := make(record, len(header))
		for i, h := range header {
			rec[h] = fields[i]
		}
		records = append(records, rec)
	}
	return records, nil
}

type importState struct {
	store    storage.Store
	projects map[string]*models.Project

	// current is the case applied by the latest case row. Step rows naming
	// its title attach to it.
	current        *models.TestCase
	currentProject int64
}

// stepParent resolves the case a step row belongs to. Titles are only unique
// within a suite, so a title shared by several cases of the project must follow
// the case row it belongs to.
func (st *importState) stepParent(ctx context.Context, p *models.Project, title string) (*models.TestCase, error) {
	if st.current != nil && st.currentProject == p.ID && st.current.Title == title {
		return st.current, nil
	}
	cases, err := st.store.FindCasesByTitle(ctx, p.ID, title)
	if err != nil {
		return nil, err
	}
	switch len(cases) {
	case 0:
		return nil, &FormatError{Message: fmt.Sprintf("test case %q does not exist in project %q", title, p.Name)}
	case 1:
		return &cases[0], nil
	default:
		return nil, &FormatError{Message: fmt.Sprintf("test case %q is ambiguous in project %q: %d suites have it, place the step rows after their case row", title, p.Name, len(cases))}
	}
}

func (st *importState) project(ctx context.Context, name string) (*models.Project, error) {
	if p, ok := st.projects[name]; ok {
		return p, nil
	}
	p, err := st.store.GetProjectByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &FormatError{Message: fmt.Sprintf("project %q does not exist", name)}
	}
	st.projects[name] = p
	return p, nil
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func (st *importState) apply(ctx context.Context, rec record, stats *ImportStats) error {
	projectName := clean(rec["project_name"])
	parent := clean(rec["parent"])
	name := clean(rec["name"])

	switch rec["type"] {
	case TypeProject:
		if name == "" {
			return &FormatError{Message: "project without name"}
		}
		p := &models.Project{Name: name, Description: rec["description"]}
		if err := st.store.UpsertProject(ctx, p); err != nil {
			return err
		}
		st.projects[p.Name] = p
		stats.Projects++

	case TypeSuite:
		if projectName == "" || name == "" {
			return &FormatError{Message: "suite without project_name or name"}
		}
		p, err := st.project(ctx, projectName)
		if err != nil {
			return err
		}
		suite := &models.TestSuite{ProjectID: p.ID, Name: name, Description: rec["description"]}
		if err := st.store.UpsertSuite(ctx, suite); err != nil {
			return err
		}
		stats.Suites++

	case TypeCase:
		if projectName == "" || parent == "" {
			return &FormatError{Message: "case without project_name or parent"}
		}
		p, err := st.project(ctx, projectName)
		if err != nil {
			return err
		}
		suite, err := st.store.GetSuiteByName(ctx, p.ID, parent)
		if err != nil {
			return err
		}
		if suite == nil {
			return &FormatError{Message: fmt.Sprintf("suite %q does not exist in project %q", parent, projectName)}
		}
		tc := &models.TestCase{
			SuiteID:       suite.ID,
			Title:         name,
			Description:   rec["description"],
			Prerequisites: rec["prerequisites"],
			Status:        strings.TrimSpace(rec["status"]),
			Priority:      strings.TrimSpace(rec["priority"]),
		}
		tc.Normalize()
		if err := tc.Validate(); err != nil {
			return &FormatError{Message: err.Error()}
		}
		if err := st.store.UpsertCase(ctx, tc); err != nil {
			return err
		}
		st.current, st.currentProject = tc, p.ID
		stats.Cases++

	case TypeStep:
		if projectName == "" || parent == "" {
			return &FormatError{Message: "step without project_name or parent"}
		}
		orderText := strings.TrimSpace(rec["order"])
		if orderText == "" {
			return &FormatError{Message: "step order is required"}
		}
		order, err := strconv.Atoi(orderText)
		if err != nil || order <= 0 {
			return &FormatError{Message: fmt.Sprintf("step order must be a positive integer, got %q", orderText)}
		}
		p, err := st.project(ctx, projectName)
		if err != nil {
			return err
		}
		tc, err := st.stepParent(ctx, p, parent)
		if err != nil {
			return err
		}
		step := &models.TestStep{
			TestCaseID:     tc.ID,
			Order:          order,
			Description:    rec["description"],
			ExpectedResult: rec["expected_result"],
		}
		if err := st.store.UpsertStep(ctx, step); err != nil {
			return err
		}
		stats.Steps++

	default:
		return &FormatError{Message: fmt.Sprintf("invalid record type %q", rec["type"])}
	}
	return nil
}
