// Package protocol implements the optimization session spoken with an
// external optimizer: task bootstrap, turning and phase report, and the
// evaluation loop. Optimizer is the peer side of the same exchange.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tlcopt/internal/engine"
	"tlcopt/internal/metrics"
	"tlcopt/internal/model"
	"tlcopt/internal/network"
	"tlcopt/internal/scenario"
	"tlcopt/internal/stats"
	"tlcopt/internal/storage"
	"tlcopt/internal/wire"
)

var ErrNetworkUnavailable = errors.New("network file unavailable")

// errIdleClose marks a connection that closed while a fresh bootstrap was
// waiting for a network file name.
var errIdleClose = errors.New("connection closed before bootstrap")

// Simulator opens network files and runs replications on them.
type Simulator interface {
	Open(path string) (*network.Network, error)
	Simulate(ctx context.Context, net *network.Network, replicationID int) (engine.Run, error)
}

// Server drives sessions over one optimizer connection. Store, Metrics and
// Logger are optional.
type Server struct {
	Kind             model.ControllerKind
	DefaultNetwork   string
	InstanceID       int
	AnnounceInitDone bool
	APIExtension     string
	Results          scenario.ResultStorage
	ArtifactsDir     string

	Simulator Simulator
	Store     storage.Store
	Metrics   *metrics.Recorder
	Logger    *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Serve bootstraps a session, runs its evaluation loop and starts over when
// the optimizer sends DONE. It returns nil when the optimizer closes the
// connection between sessions, ErrNetworkUnavailable when a network file
// cannot be opened, and the connection error otherwise. Cancelling ctx
// closes the connection.
func (s *Server) Serve(ctx context.Context, conn *wire.Conn) error {
	if s.Simulator == nil {
		return errors.New("server has no simulator")
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for round := 0; ; round++ {
		sess, err := s.bootstrap(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if round > 0 && errors.Is(err, errIdleClose) {
				s.logger().Info("optimizer disconnected", "sessions", round)
				return nil
			}
			return err
		}

		err = sess.steadyState(ctx)
		s.finish(ctx, sess)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		sess.logger.Info("session done, awaiting next task")
	}
}

func (s *Server) bootstrap(ctx context.Context, conn *wire.Conn) (*Session, error) {
	logger := s.logger().With("instance", s.InstanceID)

	name, err := conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errIdleClose, err)
	}
	path := s.networkPath(name)
	net, err := s.Simulator.Open(path)
	if err != nil {
		logger.Error("network file could not be opened", "path", path, "error", err)
		if sendErr := conn.Send(TokenNetworkNotOK); sendErr != nil {
			logger.Warn("failed to report network error", "error", sendErr)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrNetworkUnavailable, path, err)
	}
	if err := conn.Send(TokenNetworkOK); err != nil {
		return nil, err
	}

	sess := s.newSession(conn, net, logger)
	sess.record.NetworkFile = path

	task, report, err := ReceiveTask(conn, net, sess.logger)
	if err != nil {
		return nil, err
	}
	sess.task = task
	sess.report = report
	for _, f := range report.Fields {
		if !f.OK() {
			s.Metrics.FieldFailure(string(f.Field))
		}
	}

	sess.prepare(ctx)
	if err := sess.exchange(); err != nil {
		return nil, err
	}

	sess.record.Task = sess.task
	sess.record.Statuses = report.Statuses()
	sess.record.Degraded = sess.degraded
	sess.record.Motorized = sess.turnings.Motorized
	sess.record.Pedestrian = sess.turnings.Pedestrian
	sess.record.ReferencePlan = sess.reference
	sess.saveRecord(ctx)
	s.Metrics.SessionStarted()
	sess.logger.Info("session bootstrapped",
		"network", path,
		"replication", task.ReplicationID,
		"junction", task.JunctionID,
		"point_in_time", task.PointInTime,
		"degraded", sess.degraded,
	)
	return sess, nil
}

func (s *Server) networkPath(name string) string {
	if name == TokenNone {
		name = s.DefaultNetwork
	}
	return network.ResolveFile(name)
}

func (s *Server) newSession(conn *wire.Conn, net *network.Network, logger *slog.Logger) *Session {
	id := uuid.NewString()
	logger = logger.With("session", id)
	results := s.Results
	if results.Database == "" {
		results.Database = fmt.Sprintf("layer2_%d", s.InstanceID)
	}
	decoder, err := decoderFor(s.Kind)
	if err != nil {
		logger.Error("no gene decoder", "kind", s.Kind, "error", err)
	}
	return &Session{
		ID:           id,
		Kind:         s.Kind,
		conn:         conn,
		net:          net,
		sim:          s.Simulator,
		store:        s.Store,
		metrics:      s.Metrics,
		logger:       logger,
		builder:      scenario.NewBuilder(net, logger),
		decoder:      decoder,
		apiExtension: s.APIExtension,
		results:      results,
		announceInit: s.AnnounceInitDone,
		now:          s.now,
		record: model.SessionRecord{
			VersionedRecord: storage.Versioned(),
			ID:              id,
			InstanceID:      s.InstanceID,
			ControllerKind:  s.Kind,
			Database:        results.Database,
			StartedAt:       s.now(),
		},
	}
}

// finish stamps the end time, persists the record and writes artifacts. It
// runs after the connection may already be gone, so it ignores
// cancellation of ctx.
func (s *Server) finish(ctx context.Context, sess *Session) {
	ctx = context.WithoutCancel(ctx)
	ended := s.now()
	sess.record.EndedAt = &ended
	sess.saveRecord(ctx)

	if s.ArtifactsDir == "" {
		return
	}
	dir, err := stats.WriteSessionArtifacts(s.ArtifactsDir, stats.SessionArtifacts{
		Session:     sess.record,
		Evaluations: sess.evaluations,
	})
	if err != nil {
		sess.logger.Warn("write session artifacts", "error", err)
		return
	}
	sess.logger.Info("session artifacts written", "dir", dir, "evaluations", len(sess.evaluations))
}
