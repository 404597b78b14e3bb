package ingest

import (
	"context"
	"fmt"

	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/metrics"
	"github.com/ferrydock/ferry/pkg/relay/wire"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

// Per-batch item caps. Items beyond the cap are dropped.
const (
	MaxLogBatch    = 10000
	MaxMetricBatch = 5000
	MaxTraceBatch  = 1000
)

// Service writes telemetry batches to storage with tenant checks.
type Service struct {
	store storage.Store
}

// NewService creates the ingestion service.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// ownershipCache memoizes execution-to-tenant checks within one batch.
type ownershipCache struct {
	store storage.Store
	orgID string
	seen  map[string]bool
}

func (c *ownershipCache) owns(ctx context.Context, executionID string) bool {
	if ok, cached := c.seen[executionID]; cached {
		return ok
	}
	exec, err := c.store.GetExecution(ctx, executionID)
	owns := err == nil && exec.OrganizationID == c.orgID
	c.seen[executionID] = owns
	if !owns {
		metrics.TelemetryDropped.WithLabelValues("foreign_execution").Inc()
		log.WithOrgID(c.orgID).Warn().
			Str("execution_id", executionID).
			Msg("Dropping telemetry for execution outside tenant")
	}
	return owns
}

func (s *Service) cache(orgID string) *ownershipCache {
	return &ownershipCache{store: s.store, orgID: orgID, seen: make(map[string]bool)}
}

func truncate(kind string, n, limit int) int {
	if n <= limit {
		return n
	}
	metrics.TelemetryDropped.WithLabelValues("over_cap").Add(float64(n - limit))
	log.Logger.Warn().
		Str("kind", kind).
		Int("size", n).
		Int("cap", limit).
		Msg("Truncating oversized telemetry batch")
	return limit
}

// IngestLogs persists a forwarded log batch under the stream's tenant.
func (s *Service) IngestLogs(ctx context.Context, orgID string, batch *wire.LogBatch) error {
	owner := s.cache(orgID)
	n := truncate("logs", len(batch.Entries), MaxLogBatch)

	entries := make([]*types.LogEntry, 0, n)
	for _, line := range batch.Entries[:n] {
		if !owner.owns(ctx, line.ExecutionID) {
			continue
		}
		entries = append(entries, &types.LogEntry{
			OrganizationID: orgID,
			ExecutionID:    line.ExecutionID,
			Timestamp:      line.Timestamp,
			Level:          line.Level,
			Message:        line.Message,
			Fields:         line.Fields,
		})
	}
	if len(entries) == 0 {
		return nil
	}
	if err := s.store.InsertLogs(ctx, entries); err != nil {
		return fmt.Errorf("failed to insert logs: %w", err)
	}
	metrics.TelemetryBatches.WithLabelValues("logs").Inc()
	return nil
}

// IngestMetrics persists a forwarded metric batch.
func (s *Service) IngestMetrics(ctx context.Context, orgID string, batch *wire.MetricBatch) error {
	owner := s.cache(orgID)
	n := truncate("metrics", len(batch.Points), MaxMetricBatch)

	points := make([]*types.MetricPoint, 0, n)
	for _, p := range batch.Points[:n] {
		if !owner.owns(ctx, p.ExecutionID) {
			continue
		}
		points = append(points, &types.MetricPoint{
			OrganizationID: orgID,
			ExecutionID:    p.ExecutionID,
			Name:           p.Name,
			Timestamp:      p.Timestamp,
			Value:          p.Value,
			Labels:         p.Labels,
		})
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.store.InsertMetrics(ctx, points); err != nil {
		return fmt.Errorf("failed to insert metrics: %w", err)
	}
	metrics.TelemetryBatches.WithLabelValues("metrics").Inc()
	return nil
}

// IngestTraces persists a forwarded trace batch.
func (s *Service) IngestTraces(ctx context.Context, orgID string, batch *wire.TraceBatch) error {
	owner := s.cache(orgID)
	n := truncate("traces", len(batch.Spans), MaxTraceBatch)

	spans := make([]*types.TraceSpan, 0, n)
	for _, sp := range batch.Spans[:n] {
		if !owner.owns(ctx, sp.ExecutionID) {
			continue
		}
		spans = append(spans, &types.TraceSpan{
			OrganizationID: orgID,
			ExecutionID:    sp.ExecutionID,
			TraceID:        sp.TraceID,
			SpanID:         sp.SpanID,
			ParentSpanID:   sp.ParentSpanID,
			Name:           sp.Name,
			StartTime:      sp.StartTime,
			EndTime:        sp.EndTime,
			Attributes:     sp.Attributes,
		})
	}
	if len(spans) == 0 {
		return nil
	}
	if err := s.store.InsertSpans(ctx, spans); err != nil {
		return fmt.Errorf("failed to insert spans: %w", err)
	}
	metrics.TelemetryBatches.WithLabelValues("traces").Inc()
	return nil
}
