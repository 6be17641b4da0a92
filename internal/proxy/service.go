package proxy

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Amsterdam/haal-centraal-proxy/internal/audit"
	"github.com/Amsterdam/haal-centraal-proxy/internal/authz"
	"github.com/Amsterdam/haal-centraal-proxy/internal/proxy/metrics"
	"github.com/Amsterdam/haal-centraal-proxy/internal/token"
	dErrors "github.com/Amsterdam/haal-centraal-proxy/pkg/domainerrors"
	strutil "github.com/Amsterdam/haal-centraal-proxy/pkg/platform/strings"
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	Validate(ctx context.Context, rawToken string) (*token.Caller, error)
}

// PermissionResolver computes effective permissions.
type PermissionResolver interface {
	Resolve(ctx context.Context, caller *token.Caller, datasetID, operation string) (*authz.EffectivePermission, error)
}

// UpstreamClient forwards validated requests to the registry.
type UpstreamClient interface {
	Call(ctx context.Context, dataset string, body map[string]any) (map[string]any, error)
	BaseURL() string
}

// Auditor records access decisions. Implementations must never block.
type Auditor interface {
	Record(ctx context.Context, event audit.Event)
}

// Service runs the request pipeline: validate token, resolve permissions,
// validate and rewrite the query, call upstream, filter the response. Each
// request is independent; the only shared state is the read-mostly policy
// and key snapshots behind the injected dependencies.
type Service struct {
	tokens   TokenValidator
	resolver PermissionResolver
	upstream UpstreamClient
	auditor  Auditor

	// publicBase is this proxy's own base URL (or path), substituted into
	// pagination links that point at the upstream registry.
	publicBase string

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewService wires the pipeline.
func NewService(
	tokens TokenValidator,
	resolver PermissionResolver,
	upstream UpstreamClient,
	auditor Auditor,
	publicBase string,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		tokens:     tokens,
		resolver:   resolver,
		upstream:   upstream,
		auditor:    auditor,
		publicBase: publicBase,
		logger:     logger,
		metrics:    m,
		tracer:     otel.Tracer("haal-centraal-proxy/pipeline"),
	}
}

// Handle processes one inbound request and returns the filtered payload.
func (s *Service) Handle(ctx context.Context, bearerToken string, req Request) (map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "proxy.handle",
		trace.WithAttributes(
			attribute.String("dataset", req.Dataset),
			attribute.String("operation", req.Operation),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.ObservePipelineLatency(time.Since(start))
	}()

	caller, err := s.tokens.Validate(ctx, bearerToken)
	if err != nil {
		s.deny(ctx, req, nil, nil, err)
		return nil, err
	}

	perm, err := s.resolver.Resolve(ctx, caller, req.Dataset, req.Operation)
	if err != nil {
		s.deny(ctx, req, caller, nil, err)
		return nil, err
	}

	validated, err := ValidateRequest(req, perm)
	if err != nil {
		s.deny(ctx, req, caller, perm, err)
		return nil, err
	}

	upstreamStart := time.Now()
	payload, err := s.upstream.Call(ctx, req.Dataset, validated.Body())
	s.metrics.ObserveUpstreamLatency(time.Since(upstreamStart))
	if err != nil {
		s.metrics.IncrementOutcome(req.Dataset, string(audit.OutcomeError))
		s.auditor.Record(ctx, audit.Event{
			Subject:       caller.Subject,
			Dataset:       req.Dataset,
			Operation:     req.Operation,
			GrantedScopes: perm.GrantingScopes,
			Parameters:    parameterNames(req),
			Outcome:       audit.OutcomeError,
			Reason:        string(dErrors.CodeOf(err)),
		})
		return nil, err
	}

	filtered := Filter(payload, perm)
	s.metrics.AddFieldsRemoved(req.Dataset, CountLeaves(payload)-CountLeaves(filtered))
	RewriteLinks(filtered, s.upstream.BaseURL(), s.publicBase)

	fieldCount := CountLeaves(filtered)
	s.metrics.IncrementOutcome(req.Dataset, string(audit.OutcomeAllowed))
	s.auditor.Record(ctx, audit.Event{
		Subject:       caller.Subject,
		Dataset:       req.Dataset,
		Operation:     req.Operation,
		GrantedScopes: perm.GrantingScopes,
		Parameters:    parameterNames(req),
		FieldCount:    fieldCount,
		Outcome:       audit.OutcomeAllowed,
	})

	if s.logger != nil {
		s.logger.InfoContext(ctx, "request allowed",
			"dataset", req.Dataset,
			"operation", req.Operation,
			"subject", caller.Subject,
			"granted_scopes", perm.GrantingScopes,
			"field_count", fieldCount,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return filtered, nil
}

// deny records a denial (or authentication failure) without ever failing the
// request differently than the causing error already does.
func (s *Service) deny(ctx context.Context, req Request, caller *token.Caller, perm *authz.EffectivePermission, cause error) {
	domErr := dErrors.FromError(cause)

	event := audit.Event{
		Dataset:    req.Dataset,
		Operation:  req.Operation,
		Parameters: parameterNames(req),
		Outcome:    audit.OutcomeDenied,
		Reason:     string(domErr.Code),
	}
	if caller != nil {
		event.Subject = caller.Subject
	}
	if perm != nil {
		event.GrantedScopes = perm.GrantingScopes
	}
	if domErr.Param != "" {
		event.DeniedParameters = []string{domErr.Param}
	}

	s.metrics.IncrementOutcome(req.Dataset, string(audit.OutcomeDenied))
	s.auditor.Record(ctx, event)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "request denied",
			"dataset", req.Dataset,
			"operation", req.Operation,
			"subject", event.Subject,
			"reason", domErr.Code,
		)
	}
}

func parameterNames(req Request) []string {
	names := make(map[string]struct{}, len(req.Parameters))
	for name := range req.Parameters {
		names[name] = struct{}{}
	}
	return strutil.SortedKeys(names)
}
