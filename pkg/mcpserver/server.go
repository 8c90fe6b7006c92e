// Package mcpserver exposes session execution as MCP tools so an agent can
// work through a test session.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/engine"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/models"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP SDK server with the test manager tools registered.
type Server struct {
	MCPServer *sdkmcp.Server

	engine *engine.Engine
	store  storage.CatalogStore
	log    *slog.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(eng *engine.Engine, store storage.CatalogStore, logger *slog.Logger, version string) *Server {
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "testmanager", Version: version}, nil),
		engine:    eng,
		store:     store,
		log:       logger.With(slog.String("component", "mcp")),
	}
	s.registerTools()
	return s
}

// Run serves the tools over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_projects",
		Description: "List all projects with their IDs.",
	}, s.handleListProjects)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_sessions",
		Description: "List the test sessions of a project, newest first.",
	}, s.handleListSessions)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "create_session",
		Description: "Create a test session. Empty case_ids and suite_ids cover every test case of the project.",
	}, s.handleCreateSession)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_session_progress",
		Description: "Get the progress of a session and the next test case to execute, if any.",
	}, s.handleGetProgress)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_session_detail",
		Description: "Get every test case of a session with its execution status, ordered by title, and the suites they belong to.",
	}, s.handleGetSessionDetail)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "record_execution",
		Description: "Record the result of a test case: PASS, FAIL, BLOCKED, SKIPPED or NOT_TESTED to reset.",
	}, s.handleRecordExecution)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "skip_remaining",
		Description: "Mark every NOT_TESTED case of the session as SKIPPED and complete it.",
	}, s.handleSkipRemaining)
}

// --- Tool input/output types ---

type projectItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type listProjectsInput struct{}

type listProjectsOutput struct {
	Projects []projectItem `json:"projects"`
}

type sessionItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ExecutedBy  string `json:"executed_by"`
	Environment string `json:"environment,omitempty"`
	StartedAt   string `json:"started_at"`
	Completed   bool   `json:"completed"`
}

type listSessionsInput struct {
	ProjectID int64 `json:"project_id" jsonschema:"project ID from list_projects"`
}

type listSessionsOutput struct {
	Sessions []sessionItem `json:"sessions"`
}

type createSessionInput struct {
	ProjectID   int64   `json:"project_id" jsonschema:"project ID from list_projects"`
	Name        string  `json:"name,omitempty" jsonschema:"session name (default Session (yyyy/mm/dd))"`
	ExecutedBy  string  `json:"executed_by,omitempty" jsonschema:"name of the tester (required)"`
	Environment string  `json:"environment,omitempty" jsonschema:"environment under test"`
	CaseIDs     []int64 `json:"case_ids,omitempty" jsonschema:"test case IDs to include"`
	SuiteIDs    []int64 `json:"suite_ids,omitempty" jsonschema:"test suite IDs whose cases to include"`
}

type createSessionOutput struct {
	Session    sessionItem `json:"session"`
	TotalCount int         `json:"total_count"`
}

type sessionInput struct {
	SessionID int64 `json:"session_id" jsonschema:"session ID from create_session or list_sessions"`
}

type nextCase struct {
	TestCaseID int64  `json:"test_case_id"`
	Title      string `json:"title"`
	Number     int    `json:"number"`
	Steps      []step `json:"steps,omitempty"`
}

type step struct {
	Order          int    `json:"order"`
	Description    string `json:"description"`
	ExpectedResult string `json:"expected_result,omitempty"`
}

type progressOutput struct {
	SessionID      int64     `json:"session_id"`
	Completed      bool      `json:"completed"`
	TotalCount     int       `json:"total_count"`
	CompletedCount int       `json:"completed_count"`
	Progress       float64   `json:"progress"`
	Next           *nextCase `json:"next,omitempty"`
}

type executionItem struct {
	TestCaseID   int64  `json:"test_case_id"`
	SuiteID      int64  `json:"suite_id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	ExecutedBy   string `json:"executed_by,omitempty"`
	ExecutedAt   string `json:"executed_at,omitempty"`
	ResultDetail string `json:"result_detail,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type suiteItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type sessionDetailOutput struct {
	Session    sessionItem     `json:"session"`
	Executions []executionItem `json:"executions"`
	Suites     []suiteItem     `json:"suites"`
}

type recordExecutionInput struct {
	SessionID    int64  `json:"session_id" jsonschema:"session ID"`
	TestCaseID   int64  `json:"test_case_id" jsonschema:"test case ID"`
	Status       string `json:"status" jsonschema:"PASS, FAIL, BLOCKED, SKIPPED or NOT_TESTED"`
	ExecutedBy   string `json:"executed_by,omitempty" jsonschema:"tester (default the session's tester)"`
	ResultDetail string `json:"result_detail,omitempty" jsonschema:"observed result"`
	Notes        string `json:"notes,omitempty"`
}

type recordExecutionOutput struct {
	TestCaseID int64  `json:"test_case_id"`
	Status     string `json:"status"`
	ExecutedBy string `json:"executed_by"`
	Completed  bool   `json:"session_completed"`
}

type skipRemainingOutput struct {
	SessionID int64 `json:"session_id"`
	Skipped   int64 `json:"skipped"`
}

// --- Tool handlers ---

func (s *Server) handleListProjects(ctx context.Context, _ *sdkmcp.CallToolRequest, _ listProjectsInput) (*sdkmcp.CallToolResult, listProjectsOutput, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, listProjectsOutput{}, fmt.Errorf("list_projects: %w", err)
	}
	out := listProjectsOutput{Projects: make([]projectItem, 0, len(projects))}
	for _, p := range projects {
		out.Projects = append(out.Projects, projectItem{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	return nil, out, nil
}

func (s *Server) handleListSessions(ctx context.Context, _ *sdkmcp.CallToolRequest, input listSessionsInput) (*sdkmcp.CallToolResult, listSessionsOutput, error) {
	sessions, err := s.engine.ListSessions(ctx, input.ProjectID)
	if err != nil {
		return nil, listSessionsOutput{}, err
	}
	out := listSessionsOutput{Sessions: make([]sessionItem, 0, len(sessions))}
	for i := range sessions {
		out.Sessions = append(out.Sessions, toSessionItem(&sessions[i]))
	}
	return nil, out, nil
}

func (s *Server) handleCreateSession(ctx context.Context, _ *sdkmcp.CallToolRequest, input createSessionInput) (*sdkmcp.CallToolResult, createSessionOutput, error) {
	session, err := s.engine.CreateSession(ctx, input.ProjectID, models.SessionRequest{
		Name:        input.Name,
		ExecutedBy:  input.ExecutedBy,
		Environment: input.Environment,
		Scope:       models.ScopeSelector{CaseIDs: input.CaseIDs, SuiteIDs: input.SuiteIDs},
	})
	if err != nil {
		return nil, createSessionOutput{}, err
	}
	progress, err := s.engine.GetProgress(ctx, session.ID)
	if err != nil {
		return nil, createSessionOutput{}, err
	}
	s.log.Info("Session created over MCP", slog.Int64("session_id", session.ID), slog.Int("cases", progress.TotalCount))
	return nil, createSessionOutput{Session: toSessionItem(session), TotalCount: progress.TotalCount}, nil
}

func (s *Server) handleGetProgress(ctx context.Context, _ *sdkmcp.CallToolRequest, input sessionInput) (*sdkmcp.CallToolResult, progressOutput, error) {
	progress, err := s.engine.GetProgress(ctx, input.SessionID)
	if err != nil {
		return nil, progressOutput{}, err
	}
	out := progressOutput{
		SessionID:      progress.SessionID,
		Completed:      progress.Completed,
		TotalCount:     progress.TotalCount,
		CompletedCount: progress.CompletedCount,
		Progress:       progress.ProgressPercent,
	}
	next, err := s.engine.GetNext(ctx, input.SessionID, nil)
	if err != nil {
		return nil, progressOutput{}, err
	}
	if next != nil {
		out.Next = &nextCase{TestCaseID: next.TestCase.ID, Title: next.TestCase.Title, Number: next.Number}
		for _, st := range next.TestCase.Steps {
			out.Next.Steps = append(out.Next.Steps, step{Order: st.Order, Description: st.Description, ExpectedResult: st.ExpectedResult})
		}
	}
	return nil, out, nil
}

func (s *Server) handleGetSessionDetail(ctx context.Context, _ *sdkmcp.CallToolRequest, input sessionInput) (*sdkmcp.CallToolResult, sessionDetailOutput, error) {
	detail, err := s.engine.SessionDetail(ctx, input.SessionID)
	if err != nil {
		return nil, sessionDetailOutput{}, err
	}
	out := sessionDetailOutput{
		Session:    toSessionItem(&detail.Session),
		Executions: make([]executionItem, 0, len(detail.Executions)),
		Suites:     make([]suiteItem, 0, len(detail.Suites)),
	}
	for _, ce := range detail.Executions {
		item := executionItem{
			TestCaseID:   ce.TestCase.ID,
			SuiteID:      ce.TestCase.SuiteID,
			Title:        ce.TestCase.Title,
			Status:       ce.Execution.Status,
			ExecutedBy:   ce.Execution.ExecutedBy,
			ResultDetail: ce.Execution.ResultDetail,
			Notes:        ce.Execution.Notes,
		}
		if ce.Execution.ExecutedAt != nil {
			item.ExecutedAt = ce.Execution.ExecutedAt.Format(time.RFC3339)
		}
		out.Executions = append(out.Executions, item)
	}
	for _, suite := range detail.Suites {
		out.Suites = append(out.Suites, suiteItem{ID: suite.ID, Name: suite.Name})
	}
	return nil, out, nil
}

func (s *Server) handleRecordExecution(ctx context.Context, _ *sdkmcp.CallToolRequest, input recordExecutionInput) (*sdkmcp.CallToolResult, recordExecutionOutput, error) {
	execution, err := s.engine.Record(ctx, input.SessionID, input.TestCaseID, models.ExecutionResult{
		Status:       input.Status,
		ExecutedBy:   input.ExecutedBy,
		ResultDetail: input.ResultDetail,
		Notes:        input.Notes,
	})
	if err != nil {
		return nil, recordExecutionOutput{}, err
	}
	completed, err := s.engine.CheckAndComplete(ctx, input.SessionID)
	if err != nil {
		return nil, recordExecutionOutput{}, err
	}
	return nil, recordExecutionOutput{
		TestCaseID: execution.TestCaseID,
		Status:     execution.Status,
		ExecutedBy: execution.ExecutedBy,
		Completed:  completed,
	}, nil
}

func (s *Server) handleSkipRemaining(ctx context.Context, _ *sdkmcp.CallToolRequest, input sessionInput) (*sdkmcp.CallToolResult, skipRemainingOutput, error) {
	skipped, err := s.engine.SkipRemaining(ctx, input.SessionID)
	if err != nil {
		return nil, skipRemainingOutput{}, err
	}
	return nil, skipRemainingOutput{SessionID: input.SessionID, Skipped: skipped}, nil
}

func toSessionItem(ts *models.TestSession) sessionItem {
	return sessionItem{
		ID:          ts.ID,
		Name:        ts.Name,
		ExecutedBy:  ts.ExecutedBy,
		Environment: ts.Environment,
		StartedAt:   ts.StartedAt.Format(time.RFC3339),
		Completed:   ts.Completed(),
	}
}
