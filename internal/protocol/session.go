package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tlcopt/internal/metrics"
	"tlcopt/internal/model"
	"tlcopt/internal/network"
	"tlcopt/internal/phase"
	"tlcopt/internal/scenario"
	"tlcopt/internal/storage"
	"tlcopt/internal/turning"
	"tlcopt/internal/wire"
)

// Session is the state of one bootstrapped optimization task. It is only
// touched by the goroutine serving its connection.
type Session struct {
	ID   string
	Kind model.ControllerKind

	conn    *wire.Conn
	net     *network.Network
	sim     Simulator
	store   storage.Store
	metrics *metrics.Recorder
	logger  *slog.Logger
	builder *scenario.Builder
	decoder phase.Decoder
	now     func() time.Time

	apiExtension string
	results      scenario.ResultStorage
	announceInit bool

	task        model.TaskDescriptor
	report      TaskReport
	replication *network.Replication
	experiment  *network.Experiment
	scen        *network.Scenario
	sources     scenario.Sources
	window      scenario.Window
	junction    *network.ControlJunction
	reference   model.PhasePlan
	turnings    turning.Classification
	degraded    bool

	generation  int
	index       int
	record      model.SessionRecord
	evaluations []model.EvaluationRecord
}

func decoderFor(kind model.ControllerKind) (phase.Decoder, error) {
	if kind == model.ControllerExternal {
		return nil, nil
	}
	return phase.DecoderFor(kind)
}

// Task returns the task descriptor received during bootstrap.
func (s *Session) Task() model.TaskDescriptor { return s.task }

// Report returns the per-field results of the bootstrap.
func (s *Session) Report() TaskReport { return s.report }

// Degraded reports whether the session could not resolve its replication,
// junction or controlled junction and therefore never simulates.
func (s *Session) Degraded() bool { return s.degraded }

func (s *Session) degrade(reason string, err error) {
	s.degraded = true
	s.logger.Error("session degraded", "reason", reason, "error", err)
}

// prepare configures the scenario for the task: extensions, result storage,
// warm-up, demand and control-plan window, and policies.
func (s *Session) prepare(ctx context.Context) {
	if s.decoder == nil && s.Kind != model.ControllerExternal {
		s.degrade("decoder", fmt.Errorf("unsupported controller kind %q", s.Kind))
	}
	if err := s.resolveReplication(); err != nil {
		s.degrade("replication", err)
	} else {
		s.builder.ConfigureExtensions(s.scen, s.Kind, s.apiExtension)
		s.builder.ConfigureResults(s.scen, s.results, s.task.SimulationDuration)
		if s.Kind == model.ControllerExternal {
			// The external control logic initializes during a first run.
			if _, err := s.sim.Simulate(ctx, s.net, s.replication.ID); err != nil {
				s.logger.Warn("initial simulation failed", "error", err)
			}
		}
		s.builder.SetWarmup(s.experiment, s.task.WarmupDuration)

		if err := s.buildWindow(s.task.SimulationDuration); err != nil {
			s.degrade("window", err)
		}
		if s.Kind != model.ControllerExternal {
			changes := s.builder.ActivatePolicies(s.experiment, s.task.EvaluationTime())
			s.logger.Debug("policies frozen", "activated", changes.Activated, "removed", changes.Removed, "untouched", changes.Untouched)
		}
	}
	s.resolveJunction()
}

func (s *Session) resolveReplication() error {
	if s.report.Failed(FieldReplication) {
		return fmt.Errorf("replication %d not accepted", s.task.ReplicationID)
	}
	var err error
	if s.replication, err = s.net.Replication(s.task.ReplicationID); err != nil {
		return err
	}
	if s.experiment, err = s.net.Experiment(s.replication.Experiment); err != nil {
		return err
	}
	if s.scen, err = s.net.Scenario(s.experiment.Scenario); err != nil {
		return err
	}
	s.sources, err = s.builder.CaptureSources(s.scen)
	return err
}

func (s *Session) buildWindow(duration int) error {
	window, err := s.builder.BuildWindow(s.scen, s.sources, s.task, duration)
	if err != nil {
		return err
	}
	s.builder.ReleaseWindow(s.window)
	s.window = window
	s.record.FromSituation = window.FromSituation
	return nil
}

func (s *Session) resolveJunction() {
	if s.report.Failed(FieldJunction) {
		s.degrade("junction", fmt.Errorf("junction %d not accepted", s.task.JunctionID))
		return
	}
	node, err := s.net.Node(s.task.JunctionID)
	if err != nil {
		s.degrade("junction", err)
		return
	}
	if s.turnings, err = turning.Classify(s.net, node); err != nil {
		s.degrade("turnings", err)
		return
	}
	if s.window.ControlPlan == nil {
		s.degrade("control plan", errors.New("no control plan window"))
		return
	}
	junction, ok := s.window.ControlPlan.Junction(node.ID)
	if !ok {
		s.degrade("control plan", fmt.Errorf("node %d is not controlled by plan %d", node.ID, s.window.ControlPlan.ID))
		return
	}
	if want := expectedControlType(s.Kind); want != "" && junction.Type != want {
		s.logger.Warn("controller kind does not match junction control type", "kind", s.Kind, "control_type", junction.Type)
	}
	s.junction = junction
	s.reference = phase.FromControlJunction(junction)
}

func expectedControlType(kind model.ControllerKind) network.ControlType {
	switch kind {
	case model.ControllerFixedTime:
		return network.ControlFixed
	case model.ControllerActuated:
		return network.ControlActuated
	case model.ControllerExternal:
		return network.ControlExternal
	}
	return ""
}

// exchange ends the bootstrap: external controllers get INIT_DONE, all
// others the turning and phase report. A degraded session reports nothing.
func (s *Session) exchange() error {
	if s.Kind == model.ControllerExternal {
		return s.conn.Send(TokenInitDone)
	}
	if s.announceInit {
		if err := s.conn.Send(TokenInitDone); err != nil {
			return err
		}
	}
	turnings := ""
	if !s.degraded {
		turnings = turning.Encode(s.turnings.Motorized)
	}
	if err := s.sendTurnings(turnings); err != nil {
		return err
	}
	var phases []model.Phase
	if !s.degraded {
		phases = s.reference.Phases
	}
	return s.sendPhases(phases)
}

// expect receives one token and logs a violation when it does not start
// with want. The exchange continues either way.
func (s *Session) expect(want string) error {
	token, err := s.conn.Recv()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(token, want) {
		s.violation(token, want)
	}
	return nil
}

func (s *Session) violation(received, expected string) {
	s.metrics.ProtocolViolation()
	s.logger.Warn("protocol violation", "received", received, "expected", expected)
}

func (s *Session) sendTurnings(encoded string) error {
	if err := s.expect(TokenWaitingForTurnings); err != nil {
		return err
	}
	return s.conn.Send(encoded)
}

func (s *Session) sendPhases(phases []model.Phase) error {
	if err := s.expect(TokenWaitingForPhases); err != nil {
		return err
	}
	if err := s.conn.Send(strconv.Itoa(len(phases))); err != nil {
		return err
	}
	for _, p := range phases {
		if err := s.expect(TokenWaitingNextPhase); err != nil {
			return err
		}
		if err := s.conn.Send(phase.ReportLine(p)); err != nil {
			return err
		}
	}
	return nil
}

// steadyState answers optimizer commands until DONE, which returns nil, or
// until the connection fails.
func (s *Session) steadyState(ctx context.Context) error {
	for {
		token, err := s.conn.Recv()
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(token, TokenDone):
			return nil
		case strings.HasPrefix(token, TokenNewGen):
			err = s.newGeneration()
		case strings.HasPrefix(token, TokenNewSimDur):
			err = s.newSimulationDuration()
		case strings.HasPrefix(token, TokenNewInd):
			err = s.evaluate(ctx)
		default:
			s.violation(token, "DONE, NEW_GEN, NEW_SIMDUR or NEW_IND")
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) newGeneration() error {
	if err := s.conn.Send(TokenNewGenRecv); err != nil {
		return err
	}
	token, err := s.conn.Recv()
	if err != nil {
		return err
	}
	seed, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil {
		s.logger.Warn("invalid seed", "value", token, "error", err)
		return s.conn.Send(TokenSeedInvalid)
	}
	if s.replication != nil {
		s.replication.RandomSeed = seed
	}
	s.generation++
	s.index = 0
	s.metrics.Generation()
	s.logger.Debug("new generation", "generation", s.generation, "seed", seed)
	return s.conn.Send(TokenSeedSet)
}

func (s *Session) newSimulationDuration() error {
	if err := s.conn.Send(TokenNewSimDurRecv); err != nil {
		return err
	}
	token, err := s.conn.Recv()
	if err != nil {
		return err
	}
	duration, err := wire.ParseInt(token)
	if err == nil && duration <= 0 {
		err = fmt.Errorf("%w: simulation duration %d is not positive", ErrInvalidField, duration)
	}
	if err == nil && s.scen != nil {
		err = s.buildWindow(duration)
	}
	if err != nil {
		s.logger.Warn("simulation duration rejected", "value", token, "error", err)
		return s.conn.Send(TokenSimDurInvalid)
	}
	s.task.SimulationDuration = duration
	s.record.Task.SimulationDuration = duration
	if s.scen != nil {
		s.builder.ConfigureResults(s.scen, s.results, duration)
	}
	s.logger.Info("simulation duration changed", "duration", duration)
	return s.conn.Send(TokenSimDurSet)
}

// evaluate handles one NEW_IND: it collects one gene per NEXT_ALLELE round,
// applies the decoded timings to the junction and runs one replication.
func (s *Session) evaluate(ctx context.Context) error {
	rec := model.EvaluationRecord{
		VersionedRecord: storage.Versioned(),
		SessionID:       s.ID,
		Generation:      s.generation,
		Index:           s.index,
		Status:          model.EvaluationFailed,
	}
	if s.replication != nil {
		rec.Seed = s.replication.RandomSeed
	}
	s.index++

	var evalErr error
	if s.decoder != nil && !s.degraded {
		genes, err := s.receiveGenes(s.decoder.GeneCount(s.reference))
		if err != nil {
			return err
		}
		rec.Genes = genes.values
		evalErr = genes.err
		if evalErr == nil {
			rec.Plan, evalErr = s.applyGenes(genes.values)
		}
	}
	if evalErr == nil && s.degraded {
		evalErr = errors.New("session is degraded")
	}
	if evalErr == nil {
		run, err := s.sim.Simulate(ctx, s.net, s.replication.ID)
		if err != nil {
			evalErr = err
		} else {
			rec.RunID = run.ID
			rec.Elapsed = run.Elapsed
			s.metrics.ObserveSimulation(run.Elapsed)
		}
	}

	reply := TokenSimDone
	if s.Kind == model.ControllerExternal {
		reply = TokenReady
	}
	if evalErr != nil {
		reply = TokenSimFailed
		rec.Error = evalErr.Error()
		s.logger.Warn("evaluation failed", "generation", rec.Generation, "index", rec.Index, "error", evalErr)
	} else {
		rec.Status = model.EvaluationDone
		s.logger.Debug("evaluation done", "generation", rec.Generation, "index", rec.Index, "run", rec.RunID, "cycle", rec.Plan.Cycle)
	}
	rec.FinishedAt = s.now()
	s.metrics.Evaluation(string(rec.Status))
	s.saveEvaluation(ctx, rec)
	return s.conn.Send(reply)
}

type geneBatch struct {
	values model.Individual
	err    error
}

// receiveGenes runs exactly n NEXT_ALLELE rounds. A malformed gene is
// recorded as -1 and reported through the batch error once all rounds are
// done, so the optimizer stays in step.
func (s *Session) receiveGenes(n int) (geneBatch, error) {
	batch := geneBatch{values: make(model.Individual, 0, n)}
	var errs []error
	for i := 0; i < n; i++ {
		if err := s.conn.Send(TokenNextAllele); err != nil {
			return geneBatch{}, err
		}
		token, err := s.conn.Recv()
		if err != nil {
			return geneBatch{}, err
		}
		gene, err := wire.ParseGene(token)
		if err != nil {
			errs = append(errs, fmt.Errorf("gene %d: %w", i, err))
			gene = -1
		}
		batch.values = append(batch.values, gene)
	}
	batch.err = errors.Join(errs...)
	return batch, nil
}

func (s *Session) applyGenes(genes model.Individual) (model.PhasePlan, error) {
	plan, err := s.decoder.Decode(s.reference, genes)
	if err != nil {
		return model.PhasePlan{}, err
	}
	if err := phase.ApplyToControlJunction(plan, s.junction); err != nil {
		return model.PhasePlan{}, err
	}
	return plan, nil
}

func (s *Session) saveRecord(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSession(ctx, s.record); err != nil {
		s.logger.Warn("save session", "error", err)
	}
}

func (s *Session) saveEvaluation(ctx context.Context, rec model.EvaluationRecord) {
	s.evaluations = append(s.evaluations, rec)
	if s.store == nil {
		return
	}
	if err := s.store.SaveEvaluation(ctx, rec); err != nil {
		s.logger.Warn("save evaluation", "error", err)
	}
}
