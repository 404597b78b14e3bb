package relay

import (
	"context"
	"strings"
	"time"

	"github.com/ferrydock/ferry/pkg/executions"
	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/relay/wire"
	"github.com/ferrydock/ferry/pkg/types"
)

// dispatch routes one inbound frame. Handler failures are logged and
// dropped; only transport errors may end a session.
func (s *session) dispatch(ctx context.Context, frame *wire.RelayerMessage) {
	logger := log.WithClusterID(s.clusterID)

	switch frame.Kind {
	case wire.KindHeartbeat:
		// The store write runs off the receive loop so a slow store
		// cannot stall inbound frames. Touch already advanced the
		// in-memory liveness clock.
		go func() {
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.store.UpdateClusterHeartbeat(wctx, s.clusterID, time.Now()); err != nil {
				logger.Error().Err(err).Msg("Failed to record heartbeat")
			}
		}()
		if frame.Heartbeat != nil {
			logger.Debug().
				Int("active_executions", frame.Heartbeat.ActiveExecutions).
				Msg("Heartbeat")
		}

	case wire.KindExecutionStatus:
		upd := frame.ExecutionStatus
		if upd == nil {
			logger.Warn().Msg("execution_status frame without payload")
			return
		}
		_, err := s.server.execs.Transition(ctx, s.orgID, executions.StatusUpdate{
			ExecutionID: upd.ExecutionID,
			Status:      reportedStatus(upd.Status),
			Result:      upd.Result,
			Error:       upd.Error,
			DurationMs:  upd.DurationMs,
		})
		if err != nil {
			logger.Warn().Err(err).
				Str("execution_id", upd.ExecutionID).
				Str("status", upd.Status).
				Msg("Rejected execution status report")
		}

	case wire.KindLogBatch:
		if frame.LogBatch == nil {
			return
		}
		if err := s.server.ingest.IngestLogs(ctx, s.orgID, frame.LogBatch); err != nil {
			logger.Error().Err(err).Msg("Failed to ingest log batch")
		}

	case wire.KindMetricBatch:
		if frame.MetricBatch == nil {
			return
		}
		if err := s.server.ingest.IngestMetrics(ctx, s.orgID, frame.MetricBatch); err != nil {
			logger.Error().Err(err).Msg("Failed to ingest metric batch")
		}

	case wire.KindTraceBatch:
		if frame.TraceBatch == nil {
			return
		}
		if err := s.server.ingest.IngestTraces(ctx, s.orgID, frame.TraceBatch); err != nil {
			logger.Error().Err(err).Msg("Failed to ingest trace batch")
		}

	case wire.KindAgentRegistrationStatus:
		ack := frame.AgentRegistrationStatus
		if ack == nil {
			return
		}
		if err := s.server.execs.HandleRegistrationStatus(ctx, s.orgID, ack.AgentID, ack.Success, ack.Error); err != nil {
			logger.Warn().Err(err).
				Str("agent_id", ack.AgentID).
				Msg("Rejected agent registration status")
		}

	default:
		// Unknown kinds are ignored so relayers can be upgraded first.
		logger.Debug().Str("kind", frame.Kind).Msg("Ignoring unknown frame kind")
	}
}

// reportedStatus maps a relayer's status string onto the lifecycle. A
// relayer reports STARTING when a runner picks work up; the row enters
// running at that moment.
func reportedStatus(s string) types.ExecutionStatus {
	status := types.ExecutionStatus(strings.ToLower(s))
	if status == "starting" {
		return types.ExecutionStatusRunning
	}
	return status
}
