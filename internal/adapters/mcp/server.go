// Package mcpadapter exposes operator tools over the Model Context Protocol.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

type Server struct {
	jobs       ports.JobService
	alerts     ports.AlertFeed
	reconciler ports.Reconciler
}

func New(jobs ports.JobService, alerts ports.AlertFeed, reconciler ports.Reconciler) *Server {
	return &Server{jobs: jobs, alerts: alerts, reconciler: reconciler}
}

// MCPServer registers every tool on a fresh protocol server.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("ledger-ingest", version, server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("list_active_alerts",
		mcp.WithDescription("List unresolved watchdog alerts, newest first."),
	), s.listActiveAlerts)

	srv.AddTool(mcp.NewTool("create_job",
		mcp.WithDescription("Create a processing job and queue it for the workers."),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Job type."),
			mcp.Enum(
				string(domain.JobImport),
				string(domain.JobCategorize),
				string(domain.JobValidate),
				string(domain.JobReconcile),
				string(domain.JobSync),
				string(domain.JobReceipt),
			),
		),
		mcp.WithObject("input",
			mcp.Required(),
			mcp.Description("Job input matching the job type."),
		),
	), s.createJob)

	srv.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Fetch a processing job with its state, output and error."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id.")),
	), s.getJob)

	srv.AddTool(mcp.NewTool("reconcile",
		mcp.WithDescription("Income, expenses and net flow for an account over a period."),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("Account id.")),
		mcp.WithString("period",
			mcp.Required(),
			mcp.Description("current_month or last_month."),
			mcp.Enum(string(domain.PeriodCurrentMonth), string(domain.PeriodLastMonth)),
		),
	), s.reconcile)

	return srv
}

// ServeStdio blocks serving tools over stdin/stdout.
func (s *Server) ServeStdio(version string) error {
	return server.ServeStdio(s.MCPServer(version))
}

func (s *Server) listActiveAlerts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alerts, err := s.alerts.ListActive(ctx)
	if err != nil {
		return toolError(err), nil
	}
	if alerts == nil {
		alerts = []domain.WatchdogAlert{}
	}
	return jsonResult(map[string]any{"alerts": alerts})
}

func (s *Server) createJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobType, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawInput, ok := req.GetArguments()["input"]
	if !ok {
		return mcp.NewToolResultError("input is required"), nil
	}
	encoded, err := json.Marshal(rawInput)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode input: %v", err)), nil
	}
	input, err := domain.DecodeJobInput(domain.JobType(jobType), encoded)
	if err != nil {
		return toolError(err), nil
	}

	jobID, err := s.jobs.Create(ctx, input)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]string{"job_id": jobID, "state": string(domain.JobPending)})
}

func (s *Server) getJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(job)
}

func (s *Server) reconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID, err := req.RequireString("account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawPeriod, err := req.RequireString("period")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	period, err := domain.ParsePeriod(rawPeriod)
	if err != nil {
		return toolError(err), nil
	}

	result, err := s.reconciler.Reconcile(ctx, accountID, period)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(result)
}

// toolError reports domain failures to the model; only the kind is shown for
// transient and unknown errors.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case domain.IsKind(err, domain.ErrNotFound),
		domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrInvalidTransition):
		return mcp.NewToolResultError(err.Error())
	case domain.IsKind(err, domain.ErrTemporary):
		return mcp.NewToolResultError("temporarily unavailable, retry later")
	default:
		return mcp.NewToolResultError("internal error")
	}
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
