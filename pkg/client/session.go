package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ferrydock/ferry/pkg/relay/wire"
)

// Session is one attached work stream.
type Session struct {
	stream   wire.StreamWorkClient
	handlers Handlers

	sendMu sync.Mutex

	done    chan struct{}
	doneErr error
	once    sync.Once
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.doneErr = err
		close(s.done)
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended. Valid after Done is closed.
func (s *Session) Err() error { return s.doneErr }

// Close half-closes the stream; the control plane sees a clean detach.
func (s *Session) Close() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.stream.CloseSend()
	s.finish(nil)
	return err
}

func (s *Session) recvLoop(ctx context.Context) {
	for {
		msg, err := s.stream.Recv()
		if err != nil {
			s.finish(err)
			return
		}
		switch msg.Kind {
		case wire.KindWorkItem:
			if s.handlers.OnWorkItem != nil && msg.WorkItem != nil {
				s.handlers.OnWorkItem(ctx, msg.WorkItem)
			}
		case wire.KindAgentRegistration:
			if s.handlers.OnAgentRegistration != nil && msg.AgentRegistration != nil {
				s.handlers.OnAgentRegistration(ctx, msg.AgentRegistration)
			}
		default:
			// Unknown kinds are ignored for forward compatibility.
		}
	}
}

func (s *Session) send(msg *wire.RelayerMessage) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(msg)
}

// Heartbeat reports liveness and current load.
func (s *Session) Heartbeat(activeExecutions int) error {
	return s.send(&wire.RelayerMessage{
		Kind: wire.KindHeartbeat,
		Heartbeat: &wire.Heartbeat{
			Timestamp:        time.Now(),
			ActiveExecutions: activeExecutions,
		},
	})
}

// StartHeartbeats sends a heartbeat every interval until the session
// ends or ctx is canceled.
func (s *Session) StartHeartbeats(ctx context.Context, interval time.Duration, load func() int) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := 0
				if load != nil {
					n = load()
				}
				if err := s.Heartbeat(n); err != nil {
					return
				}
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ReportStatus sends an execution lifecycle report.
func (s *Session) ReportStatus(executionID, status string, result json.RawMessage, errMsg string, durationMs int64) error {
	return s.send(&wire.RelayerMessage{
		Kind: wire.KindExecutionStatus,
		ExecutionStatus: &wire.ExecutionStatusUpdate{
			ExecutionID: executionID,
			Status:      status,
			Result:      result,
			Error:       errMsg,
			DurationMs:  durationMs,
		},
	})
}

// SendLogs forwards a log batch.
func (s *Session) SendLogs(entries []wire.LogLine) error {
	return s.send(&wire.RelayerMessage{
		Kind:     wire.KindLogBatch,
		LogBatch: &wire.LogBatch{Entries: entries},
	})
}

// SendMetrics forwards a metric batch.
func (s *Session) SendMetrics(points []wire.MetricSample) error {
	return s.send(&wire.RelayerMessage{
		Kind:        wire.KindMetricBatch,
		MetricBatch: &wire.MetricBatch{Points: points},
	})
}

// SendTraces forwards a trace batch.
func (s *Session) SendTraces(spans []wire.Span) error {
	return s.send(&wire.RelayerMessage{
		Kind:       wire.KindTraceBatch,
		TraceBatch: &wire.TraceBatch{Spans: spans},
	})
}

// AckRegistration acknowledges an agent_registration push.
func (s *Session) AckRegistration(agentID, agentName string, success bool, errMsg string) error {
	return s.send(&wire.RelayerMessage{
		Kind: wire.KindAgentRegistrationStatus,
		AgentRegistrationStatus: &wire.AgentRegistrationStatus{
			AgentID:   agentID,
			AgentName: agentName,
			Success:   success,
			Error:     errMsg,
		},
	})
}
