package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ferrydock/ferry/pkg/log"
	"github.com/ferrydock/ferry/pkg/metrics"
	"github.com/ferrydock/ferry/pkg/registry"
	"github.com/ferrydock/ferry/pkg/relay/wire"
	"github.com/ferrydock/ferry/pkg/types"
)

// session serves one attached stream. The receive loop runs in its own
// goroutine because Recv only unblocks when the stream ends; the send
// loop owns the session's lifetime and returns the session error.
type session struct {
	server    *Server
	conn      *registry.ClusterConnection
	orgID     string
	clusterID string
}

func (s *session) run(stream wire.StreamWorkServer) error {
	ctx := stream.Context()

	recvDone := make(chan error, 1)
	go func() { recvDone <- s.recvLoop(ctx, stream) }()

	return s.sendLoop(ctx, stream, recvDone)
}

func (s *session) sendLoop(ctx context.Context, stream wire.StreamWorkServer, recvDone <-chan error) error {
	opts := s.server.opts
	for {
		select {
		case <-s.conn.Detach:
			return s.detachError(recvDone)
		case err := <-recvDone:
			return err
		case <-ctx.Done():
			return fmt.Errorf("stream context ended: %w", types.ErrStreamIO)
		default:
		}

		// The bounded dequeue is also the idle cycle: every DequeueWait
		// at most, the loop rechecks detach and inactivity.
		msg, err := s.server.queue.Dequeue(ctx, s.orgID, s.clusterID, opts.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("stream context ended: %w", types.ErrStreamIO)
			}
			log.WithClusterID(s.clusterID).Error().Err(err).Msg("Dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			if time.Since(s.conn.LastSeen()) > opts.IdleTimeout {
				s.conn.RequestDetach()
				return fmt.Errorf("no inbound activity for %s: %w", opts.IdleTimeout, types.ErrIdleTimeout)
			}
			continue
		}

		// Detach may have been requested while blocked in dequeue. The
		// message goes back untouched for the replacement session.
		select {
		case <-s.conn.Detach:
			s.requeue(msg)
			return s.detachError(recvDone)
		default:
		}

		if err := s.send(stream, toServerMessage(msg)); err != nil {
			s.requeue(msg)
			return err
		}
		metrics.MessagesDelivered.Inc()
	}
}

// send writes one frame with a bounded wait.
func (s *session) send(stream wire.StreamWorkServer, msg *wire.ServerMessage) error {
	done := make(chan error, 1)
	go func() { done <- stream.Send(msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stream write: %w", types.ErrStreamIO)
		}
		return nil
	case <-time.After(s.server.opts.WriteTimeout):
		return fmt.Errorf("stream write timed out after %s: %w", s.server.opts.WriteTimeout, types.ErrStreamIO)
	}
}

// requeue puts an undelivered message back at the head of its priority
// class. The stream context may already be dead, so the write gets its
// own deadline.
func (s *session) requeue(msg *types.QueueMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.queue.RequeueFront(ctx, s.orgID, s.clusterID, msg); err != nil {
		log.WithClusterID(s.clusterID).Error().Err(err).Msg("Failed to requeue undelivered message")
		return
	}
	metrics.MessagesRequeued.Inc()
}

// detachError classifies why the session was asked to detach. A
// displaced session is no longer the registry's live handle; a stale
// one exceeded the idle timeout; anything else is a graceful shutdown.
func (s *session) detachError(recvDone <-chan error) error {
	select {
	case err := <-recvDone:
		if err != nil {
			return err
		}
	default:
	}
	if s.server.registry.Get(s.clusterID) != s.conn {
		return fmt.Errorf("session for cluster %s: %w", s.clusterID, types.ErrReplaced)
	}
	if time.Since(s.conn.LastSeen()) > s.server.opts.IdleTimeout {
		return fmt.Errorf("session for cluster %s: %w", s.clusterID, types.ErrIdleTimeout)
	}
	return nil
}

func (s *session) recvLoop(ctx context.Context, stream wire.StreamWorkServer) error {
	for {
		frame, err := stream.Recv()
		if err != nil {
			s.conn.RequestDetach()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("stream read: %w", types.ErrStreamIO)
		}
		s.conn.Touch(time.Now())
		s.dispatch(ctx, frame)
	}
}
