package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	httperrors "github.com/husmancristian/TA_TESTMANAGER/errors" // Error helpers
	"github.com/husmancristian/TA_TESTMANAGER/pkg/config"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/csvio"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/engine"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	maxUploadMemory   = 32 << 20 // 32 MB
	csvFileFieldName  = "file"
	contentTypeCSV    = "text/csv"
	contentTypeJSON   = "application/json"
	preferredCaseArg  = "test_case_id"
	includeCasesParam = "include_cases"
)

type API struct {
	Engine    *engine.Engine
	Store     storage.Store
	Artifacts storage.ArtifactStore
	Logger    *slog.Logger
	Config    *config.Config
}

func NewAPI(eng *engine.Engine, store storage.Store, artifacts storage.ArtifactStore, logger *slog.Logger, cfg *config.Config) *API {
	return &API{Engine: eng, Store: store, Artifacts: artifacts, Logger: logger, Config: cfg}
}

func respondJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

// idParam parses a positive int64 URL parameter.
func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// HandleCreateSession resolves the scope and creates the session with its executions.
func (a *API) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleCreateSession"))
	projectID, err := idParam(r, "projectID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	var req models.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()

	session, err := a.Engine.CreateSession(r.Context(), projectID, req)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusCreated, session)
}

// HandleListSessions lists the sessions of a project, newest first.
func (a *API) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleListSessions"))
	projectID, err := idParam(r, "projectID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	sessions, err := a.Engine.ListSessions(r.Context(), projectID)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusOK, sessions)
}

// HandleDefaultSessionName proposes an unused "Session (date)" name.
func (a *API) HandleDefaultSessionName(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleDefaultSessionName"))
	projectID, err := idParam(r, "projectID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	name, err := a.Engine.ProposeSessionName(r.Context(), projectID)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusOK, map[string]string{"name": name})
}

func (a *API) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetSession"))
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	detail, err := a.Engine.SessionDetail(r.Context(), sessionID)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusOK, detail)
}

// HandleGetProgress returns the progress payload. Observing a session with
// nothing pending completes it.
func (a *API) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetProgress"))
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	progress, err := a.Engine.GetProgress(r.Context(), sessionID)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusOK, progress)
}

// HandleGetNext serves the next execution, or 204 once nothing is pending,
// in which case the session is completed.
func (a *API) HandleGetNext(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetNext"))
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	var preferred *int64
	if raw := r.URL.Query().Get(preferredCaseArg); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httperrors.BadRequest(w, logger, err, fmt.Sprintf("invalid %s %q", preferredCaseArg, raw))
			return
		}
		preferred = &id
	}

	next, err := a.Engine.GetNext(r.Context(), sessionID, preferred)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	if next == nil {
		if _, err := a.Engine.CheckAndComplete(r.Context(), sessionID); err != nil {
			httperrors.FromError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, logger, http.StatusOK, next)
}

func (a *API) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetSummary"))
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	summary, err := a.Engine.Summary(r.Context(), sessionID)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusOK, summary)
}

// HandleRecordExecution records a result for one case of the session.
func (a *API) HandleRecordExecution(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleRecordExecution"))
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	caseID, err := idParam(r, "caseID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	var res models.ExecutionResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()

	execution, err := a.Engine.Record(r.Context(), sessionID, caseID, res)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusOK, execution)
}

func (a *API) HandleResetExecution(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleResetExecution"))
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	caseID, err := idParam(r, "caseID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	execution, err := a.Engine.Reset(r.Context(), sessionID, caseID)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusOK, execution)
}

// HandleSkipAll skips every pending execution and completes the session. Idempotent.
func (a *API) HandleSkipAll(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleSkipAll"))
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	skipped, err := a.Engine.SkipRemaining(r.Context(), sessionID)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}
	respondJSON(w, logger, http.StatusOK, map[string]int64{"test_session_id": sessionID, "skipped": skipped})
}

// HandleSessionReport writes the session's executions as CSV to the artifact store.
func (a *API) HandleSessionReport(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleSessionReport"))
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		httperrors.BadRequest(w, logger, err, err.Error())
		return
	}
	detail, err := a.Engine.SessionDetail(r.Context(), sessionID)
	if err != nil {
		httperrors.FromError(w, logger, err)
		return
	}

	var buf bytes.Buffer
	if err := csvio.WriteSessionReport(&buf, detail); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to build session report")
		return
	}
	objectName := fmt.Sprintf("sessions/%d/report-%s.csv", sessionID, uuid.NewString())
	reportURL, err := a.Artifacts.StoreArtifact(r.Context(), objectName, &buf, int64(buf.Len()), contentTypeCSV)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to store session report")
		return
	}
	logger.Info("Session report stored", slog.Int64("session_id", sessionID), slog.String("object", objectName))
	respondJSON(w, logger, http.StatusCreated, map[string]string{"url": reportURL, "object": objectName})
}
