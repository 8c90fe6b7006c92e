package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	httperrors "github.com/husmancristian/TA_TESTMANAGER/errors"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/csvio"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
)

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *API) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleListProjects"))
	projects, err := a.Store.ListProjects(r.Context())
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve projects")
		return
	}
	respondJSON(w, logger, http.StatusOK, projects)
}

// HandleCreateProject adds a project. Names are unique.
func (a *API) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleCreateProject"))
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httperrors.BadRequest(w, logger, nil, "Missing required field: name")
		return
	}

	existing, err := a.Store.GetProjectByName(r.Context(), req.Name)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to check project")
		return
	}
	if existing != nil {
		httperrors.RespondWithError(w, logger, http.StatusConflict, nil, fmt.Sprintf("Project '%s' already exists", req.Name))
		return
	}

	project := &models.Project{Name: req.Name, Description: req.Description}
	if err := a.Store.UpsertProject(r.Context(), project); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to create project")
		return
	}
	logger.Info("Project created", slog.Int64("project_id", project.ID), slog.String("name", project.Name))
	respondJSON(w, logger, http.StatusCreated, project)
}

func (a *API) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetProject"))
	project, ok := a.project(w, r, logger)
	if !ok {
		return
	}
	respondJSON(w, logger, http.StatusOK, project)
}

// project loads the {projectID} of the request, writing the error response itself.
func (a *API) project(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*models.Project, bool) {
	projectID, err := idParam(r, "projectID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return nil, false
	}
	project, err := a.Store.GetProject(r.Context(), projectID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve project")
		return nil, false
	}
	if project == nil {
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("project %d not found", projectID))
		return nil, false
	}
	return project, true
}

// HandleListSuites lists the suites of a project, with their cases when include_cases=true.
func (a *API) HandleListSuites(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleListSuites"))
	project, ok := a.project(w, r, logger)
	if !ok {
		return
	}
	suites, err := a.Store.ListSuites(r.Context(), project.ID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve suites")
		return
	}
	if include, _ := strconv.ParseBool(r.URL.Query().Get(includeCasesParam)); include {
		for i := range suites {
			cases, err := a.Store.CasesForSuite(r.Context(), suites[i].ID)
			if err != nil {
				httperrors.InternalServerError(w, logger, err, "Failed to retrieve test cases")
				return
			}
			suites[i].TestCases = cases
		}
	}
	respondJSON(w, logger, http.StatusOK, suites)
}

func (a *API) HandleCreateSuite(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleCreateSuite"))
	project, ok := a.project(w, r, logger)
	if !ok {
		return
	}
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httperrors.BadRequest(w, logger, nil, "Missing required field: name")
		return
	}

	existing, err := a.Store.GetSuiteByName(r.Context(), project.ID, req.Name)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to check suite")
		return
	}
	if existing != nil {
		httperrors.RespondWithError(w, logger, http.StatusConflict, nil, fmt.Sprintf("Suite '%s' already exists in project", req.Name))
		return
	}

	suite := &models.TestSuite{ProjectID: project.ID, Name: req.Name, Description: req.Description}
	if err := a.Store.UpsertSuite(r.Context(), suite); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to create suite")
		return
	}
	respondJSON(w, logger, http.StatusCreated, suite)
}

// HandleCreateCase stores a test case and its steps in one transaction.
func (a *API) HandleCreateCase(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleCreateCase"))
	suiteID, err := idParam(r, "suiteID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	var tc models.TestCase
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()

	tc.SuiteID = suiteID
	tc.Normalize()
	if err := tc.Validate(); err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}

	suite, err := a.Store.GetSuite(r.Context(), suiteID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve suite")
		return
	}
	if suite == nil {
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("test suite %d not found", suiteID))
		return
	}

	steps := tc.Steps
	err = a.Store.InTx(r.Context(), func(ctx context.Context) error {
		if err := a.Store.UpsertCase(ctx, &tc); err != nil {
			return err
		}
		for i := range steps {
			steps[i].TestCaseID = tc.ID
			if err := a.Store.UpsertStep(ctx, &steps[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to create test case")
		return
	}

	stored, err := a.Store.GetCase(r.Context(), tc.ID)
	if err != nil || stored == nil {
		httperrors.InternalServerError(w, logger, err, "Failed to reload test case")
		return
	}
	respondJSON(w, logger, http.StatusCreated, stored)
}

func (a *API) HandleGetCase(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetCase"))
	caseID, err := idParam(r, "caseID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	tc, err := a.Store.GetCase(r.Context(), caseID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve test case")
		return
	}
	if tc == nil {
		httperrors.NotFound(w, logger, nil, fmt.Sprintf("test case %d not found", caseID))
		return
	}
	respondJSON(w, logger, http.StatusOK, tc)
}

// HandleExportCSV streams the whole catalog as CSV.
func (a *API) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleExportCSV"))
	w.Header().Set("Content-Type", contentTypeCSV)
	w.Header().Set("Content-Disposition", `attachment; filename="test_data.csv"`)
	if err := csvio.Export(r.Context(), a.Store, w); err != nil {
		logger.Error("CSV export failed", slog.String("error", err.Error()))
	}
}

// HandleExportProjectCSV streams one project's catalog as CSV.
func (a *API) HandleExportProjectCSV(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleExportProjectCSV"))
	project, ok := a.project(w, r, logger)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", contentTypeCSV)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="test_data_%s.csv"`, project.Name))
	if err := csvio.Export(r.Context(), a.Store, w, project.ID); err != nil {
		logger.Error("CSV export failed", slog.Int64("project_id", project.ID), slog.String("error", err.Error()))
	}
}

// HandleImportCSV applies an uploaded catalog file (multipart field "file").
func (a *API) HandleImportCSV(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleImportCSV"))
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httperrors.BadRequest(w, logger, err, "Failed to parse multipart form")
		return
	}
	defer r.Body.Close()

	file, header, err := r.FormFile(csvFileFieldName)
	if err != nil {
		httperrors.BadRequest(w, logger, err, "No file uploaded")
		return
	}
	defer file.Close()

	stats, err := csvio.NewImporter(a.Store, logger).Import(r.Context(), file)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	logger.Info("CSV imported", slog.String("filename", header.Filename), slog.Int("rows", stats.Rows()))
	respondJSON(w, logger, http.StatusOK, stats)
}
