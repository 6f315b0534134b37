// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Guardian license and restore tools for LLM integration via
// stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/guardian/internal/capsuleservice"
	"github.com/starford/guardian/internal/license"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/restore"
)

const mcpActor = "mcp"

// Server wraps the MCP server with Guardian tools.
type Server struct {
	mcp *server.MCPServer
	svc *capsuleservice.Service
}

// New creates a new MCP server with all Guardian tools registered.
func New(svc *capsuleservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Guardian",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("generate_license",
		mcp.WithDescription("Issue a license over a capsule. Read the guardian://license-types "+
			"resource first to pick a license type."),
		mcp.WithString("capsule_id", mcp.Required(), mcp.Description("Capsule the license covers")),
		mcp.WithString("author_name", mcp.Required(), mcp.Description("Rights holder")),
		mcp.WithString("author_wallet", mcp.Description("Rights holder wallet address")),
		mcp.WithNumber("grief_score", mcp.Required(), mcp.Description("Capsule grief score")),
		mcp.WithNumber("truth_confidence", mcp.Required(), mcp.Description("Truth confidence, 0-100")),
		mcp.WithString("license_type", mcp.Description("License type"), mcp.Enum(licenseTypeNames()...)),
		mcp.WithString("licensed_to", mcp.Description("Licensee identity")),
		mcp.WithNumber("duration", mcp.Description("Validity in days; omit for no expiry")),
	), s.generateLicense)

	s.mcp.AddTool(mcp.NewTool("verify_license",
		mcp.WithDescription("Check a license for expiry and tampering. A verifier identity is "+
			"recorded as an attestation; two distinct verifiers mark the license verified."),
		mcp.WithString("license_id", mcp.Required(), mcp.Description("License id")),
		mcp.WithString("verifier", mcp.Description("Identity attesting the license")),
	), s.verifyLicense)

	s.mcp.AddTool(mcp.NewTool("request_license",
		mcp.WithDescription("File a pending license request for a capsule."),
		mcp.WithString("capsule_id", mcp.Required(), mcp.Description("Capsule to license")),
		mcp.WithString("requested_by", mcp.Required(), mcp.Description("Requesting identity")),
		mcp.WithString("license_type", mcp.Required(), mcp.Description("Desired license type"), mcp.Enum(licenseTypeNames()...)),
		mcp.WithString("intended_use", mcp.Description("How the capsule will be used")),
		mcp.WithNumber("duration", mcp.Description("Requested validity in days")),
		mcp.WithNumber("offer_amount", mcp.Description("Offered amount")),
		mcp.WithString("message", mcp.Description("Note to the rights holder")),
	), s.requestLicense)

	s.mcp.AddTool(mcp.NewTool("process_license_request",
		mcp.WithDescription("Approve or reject a pending license request. Approval issues the license."),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Request id")),
		mcp.WithString("action", mcp.Required(), mcp.Enum(string(license.ActionApprove), string(license.ActionReject))),
		mcp.WithString("author_address", mcp.Required(), mcp.Description("Rights holder deciding the request")),
	), s.processLicenseRequest)

	s.mcp.AddTool(mcp.NewTool("license_metrics",
		mcp.WithDescription("Aggregate license statistics: totals, revenue proxy, top capsules."),
	), s.licenseMetrics)

	s.mcp.AddTool(mcp.NewTool("search_capsules",
		mcp.WithDescription("Full-text search through restored capsules."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchCapsules)

	s.mcp.AddTool(mcp.NewTool("list_backups",
		mcp.WithDescription("List cataloged backup artifacts with validity and capsule counts."),
	), s.listBackups)

	s.mcp.AddTool(mcp.NewTool("verify_backup",
		mcp.WithDescription("Inspect a backup artifact without restoring it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Artifact path relative to the backup directory")),
	), s.verifyBackup)

	s.mcp.AddTool(mcp.NewTool("restore_capsules",
		mcp.WithDescription("Restore capsules from a backup artifact. Runs as a dry run unless "+
			"dry_run is false."),
		mcp.WithString("backup_path", mcp.Required(), mcp.Description("Artifact path relative to the backup directory")),
		mcp.WithString("decryption_key", mcp.Description("age identity for encrypted artifacts")),
		mcp.WithBoolean("dry_run", mcp.DefaultBool(true), mcp.Description("Report without writing")),
		mcp.WithBoolean("overwrite_existing", mcp.Description("Replace capsules that already exist")),
		mcp.WithBoolean("create_recovery_point", mcp.Description("Snapshot the capsule store first")),
		mcp.WithArray("capsule_ids", mcp.Description("Only these capsules"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("types", mcp.Description("Only these capsule types"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithNumber("min_grief", mcp.Description("Minimum grief score, inclusive")),
		mcp.WithNumber("max_grief", mcp.Description("Maximum grief score, inclusive")),
		mcp.WithNumber("since", mcp.Description("Earliest capsule timestamp, Unix ms")),
		mcp.WithNumber("until", mcp.Description("Latest capsule timestamp, Unix ms")),
	), s.restoreCapsules)

	s.mcp.AddTool(mcp.NewTool("import_backup",
		mcp.WithDescription("Import a backup artifact from an http(s) URL or a base64 data URI "+
			"into the backup directory and catalog it."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:application/octet-stream;base64,... URI")),
		mcp.WithString("name", mcp.Description("Artifact name; derived from the URL when omitted")),
	), s.importBackup)

	// Resource: license type reference.
	s.mcp.AddResource(
		mcp.NewResource(LicenseTypesURI, "License Types",
			mcp.WithResourceDescription("License presets and the license workflow rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLicenseTypesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func licenseTypeNames() []string {
	out := make([]string, len(models.LicenseTypes))
	for i, t := range models.LicenseTypes {
		out[i] = string(t)
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// optFloat returns the numeric argument key, or nil when it was not passed.
func optFloat(req mcp.CallToolRequest, key string) *float64 {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetFloat(key, 0)
	return &v
}

func optInt(req mcp.CallToolRequest, key string) *int {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetInt(key, 0)
	return &v
}

func optInt64(req mcp.CallToolRequest, key string) *int64 {
	f := optFloat(req, key)
	if f == nil {
		return nil
	}
	v := int64(*f)
	return &v
}

func (s *Server) generateLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	capsuleID, err := req.RequireString("capsule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	author, err := req.RequireString("author_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	grief, err := req.RequireFloat("grief_score")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	truth, err := req.RequireFloat("truth_confidence")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	l, err := s.svc.GenerateLicense(ctx, license.GenerateInput{
		CapsuleID:       capsuleID,
		Author:          models.Author{Name: author, WalletAddress: req.GetString("author_wallet", "")},
		GriefScore:      grief,
		TruthConfidence: truth,
		LicenseType:     models.LicenseType(req.GetString("license_type", "")),
		LicensedTo:      req.GetString("licensed_to", ""),
		Duration:        optInt(req, "duration"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(l)
}

func (s *Server) verifyLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("license_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.VerifyLicense(ctx, id, req.GetString("verifier", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) requestLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	capsuleID, err := req.RequireString("capsule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	requestedBy, err := req.RequireString("requested_by")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lt, err := req.RequireString("license_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := s.svc.CreateLicenseRequest(ctx, license.RequestInput{
		CapsuleID:   capsuleID,
		RequestedBy: requestedBy,
		LicenseType: models.LicenseType(lt),
		IntendedUse: req.GetString("intended_use", ""),
		Duration:    optInt(req, "duration"),
		OfferAmount: optFloat(req, "offer_amount"),
		Message:     req.GetString("message", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

func (s *Server) processLicenseRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("request_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	author, err := req.RequireString("author_address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.svc.ProcessLicenseRequest(ctx, id, license.Action(action), author)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.Success {
		return mcp.NewToolResultError(res.Message), nil
	}
	return jsonResult(res)
}

func (s *Server) licenseMetrics(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := s.svc.LicenseMetrics(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(m)
}

func (s *Server) searchCapsules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.SearchCapsules(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) listBackups(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := s.svc.ListBackups(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

func (s *Server) verifyBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.VerifyBackup(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) restoreCapsules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("backup_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sel := &restore.Selective{
		CapsuleIDs: req.GetStringSlice("capsule_ids", nil),
		Types:      req.GetStringSlice("types", nil),
	}
	if lo, hi := optFloat(req, "min_grief"), optFloat(req, "max_grief"); lo != nil || hi != nil {
		sel.GriefScoreRange = &restore.ScoreRange{Min: lo, Max: hi}
	}
	if since, until := optInt64(req, "since"), optInt64(req, "until"); since != nil || until != nil {
		sel.DateRange = &restore.DateRange{Start: since, End: until}
	}

	res, err := s.svc.Restore(ctx, restore.Options{
		BackupPath:          p,
		DecryptionKey:       req.GetString("decryption_key", ""),
		DryRun:              req.GetBool("dry_run", true),
		OverwriteExisting:   req.GetBool("overwrite_existing", false),
		CreateRecoveryPoint: req.GetBool("create_recovery_point", false),
		Selective:           sel,
		Actor:               mcpActor,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) readLicenseTypesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      LicenseTypesURI,
			MIMEType: "text/markdown",
			Text:     LicenseTypesDocument(),
		},
	}, nil
}
