package protocol

import (
	"errors"
	"fmt"
	"log/slog"

	"tlcopt/internal/model"
	"tlcopt/internal/network"
	"tlcopt/internal/wire"
)

var ErrInvalidField = errors.New("invalid task field")

// Field names one entry of the task descriptor.
type Field string

const (
	FieldReplication        Field = "replication"
	FieldPointInTime        Field = "point_in_time"
	FieldJunction           Field = "junction"
	FieldSimulationDuration Field = "simulation_duration"
	FieldWarmupDuration     Field = "warmup_duration"
	FieldSituation          Field = "situation"
	FieldSectionIDs         Field = "section_ids"
)

// FieldResult is the outcome of reading one task field. Status is the token
// that was sent back to the optimizer.
type FieldResult struct {
	Field  Field
	Value  string
	Status string
	Err    error
}

func (r FieldResult) OK() bool { return r.Err == nil }

// TaskReport collects the field results of one bootstrap in protocol order.
type TaskReport struct {
	Fields []FieldResult
}

// Statuses returns the status token of every field. List fields contribute
// only their closing status.
func (r TaskReport) Statuses() []string {
	out := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		out = append(out, f.Status)
	}
	return out
}

func (r TaskReport) Result(field Field) (FieldResult, bool) {
	for _, f := range r.Fields {
		if f.Field == field {
			return f, true
		}
	}
	return FieldResult{}, false
}

// Failed reports whether a field was rejected or never read.
func (r TaskReport) Failed(field Field) bool {
	f, ok := r.Result(field)
	return !ok || !f.OK()
}

// Err joins the errors of all rejected fields.
func (r TaskReport) Err() error {
	var errs []error
	for _, f := range r.Fields {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", f.Field, f.Value, f.Err))
		}
	}
	return errors.Join(errs...)
}

type taskReader struct {
	conn   *wire.Conn
	net    *network.Network
	logger *slog.Logger

	task   model.TaskDescriptor
	demand *network.TrafficDemand
	report TaskReport
}

// ReceiveTask reads the task descriptor field by field and acknowledges
// each one. Invalid fields are answered with their INVALID token and left
// unset; reading goes on regardless. The returned error is only set when
// the connection fails.
func ReceiveTask(conn *wire.Conn, net *network.Network, logger *slog.Logger) (model.TaskDescriptor, TaskReport, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &taskReader{conn: conn, net: net, logger: logger}

	steps := []func() error{
		func() error {
			return r.scalar(FieldReplication, TokenReplicationOK, TokenReplicationInvalid, r.replication)
		},
		func() error {
			return r.scalar(FieldPointInTime, TokenTimeOK, TokenTimeInvalid, r.pointInTime)
		},
		func() error {
			return r.scalar(FieldJunction, TokenNodeOK, TokenNodeInvalid, r.junction)
		},
		func() error {
			return r.scalar(FieldSimulationDuration, TokenSimDurOK, TokenSimDurInvalid, r.simulationDuration)
		},
		func() error {
			return r.scalar(FieldWarmupDuration, TokenWarmDurOK, TokenWarmDurInvalid, r.warmupDuration)
		},
		func() error {
			return r.list(FieldSituation, TokenSituationDone, TokenSituationEntryOK, TokenSituationDoneOK, TokenSituationInvalid, r.situationEntry)
		},
		func() error {
			return r.list(FieldSectionIDs, TokenSectionIDsDone, TokenSectionIDOK, TokenSectionIDsDoneOK, TokenSectionIDsInvalid, r.sectionID)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return r.task, r.report, err
		}
	}
	return r.task, r.report, nil
}

func (r *taskReader) scalar(field Field, ok, invalid string, parse func(string) error) error {
	token, err := r.conn.Recv()
	if err != nil {
		return err
	}
	result := FieldResult{Field: field, Value: token, Status: ok}
	if err := parse(token); err != nil {
		result.Status = invalid
		result.Err = err
	}
	r.record(result)
	return r.conn.Send(result.Status)
}

// list reads entries until the sentinel. A malformed entry ends the list
// and keeps what was read so far.
func (r *taskReader) list(field Field, sentinel, entryOK, doneOK, invalid string, add func(string) error) error {
	result := FieldResult{Field: field, Status: doneOK}
	for {
		token, err := r.conn.Recv()
		if err != nil {
			return err
		}
		if token == sentinel {
			break
		}
		result.Value = token
		if err := add(token); err != nil {
			result.Status = invalid
			result.Err = err
			break
		}
		if err := r.conn.Send(entryOK); err != nil {
			return err
		}
	}
	r.record(result)
	return r.conn.Send(result.Status)
}

func (r *taskReader) record(result FieldResult) {
	if result.Err != nil {
		r.logger.Warn("task field rejected", "field", result.Field, "value", result.Value, "status", result.Status, "error", result.Err)
	} else {
		r.logger.Debug("task field accepted", "field", result.Field, "value", result.Value)
	}
	r.report.Fields = append(r.report.Fields, result)
}

func (r *taskReader) replication(token string) error {
	id, err := wire.ParseInt(token)
	if err != nil {
		return err
	}
	replication, err := r.net.Replication(id)
	if err != nil {
		return err
	}
	experiment, err := r.net.Experiment(replication.Experiment)
	if err != nil {
		return fmt.Errorf("replication %d: %w", id, err)
	}
	scenario, err := r.net.Scenario(experiment.Scenario)
	if err != nil {
		return fmt.Errorf("replication %d: %w", id, err)
	}
	demand, err := r.net.TrafficDemand(scenario.Demand)
	if err != nil {
		return fmt.Errorf("replication %d: %w", id, err)
	}
	r.task.ReplicationID = id
	r.task.SimStartOffset = demand.InitialTime
	r.demand = demand
	return nil
}

func (r *taskReader) pointInTime(token string) error {
	t, err := wire.ParseFloat(token)
	if err != nil {
		return err
	}
	if r.demand == nil {
		return fmt.Errorf("%w: demand duration unknown without a valid replication", ErrInvalidField)
	}
	if duration := r.demand.Duration(); t > duration {
		return fmt.Errorf("%w: point in time %v exceeds demand duration %v", ErrInvalidField, t, duration)
	}
	r.task.PointInTime = t
	return nil
}

func (r *taskReader) junction(token string) error {
	id, err := wire.ParseInt(token)
	if err != nil {
		return err
	}
	if _, err := r.net.Node(id); err != nil {
		return err
	}
	r.task.JunctionID = id
	return nil
}

func (r *taskReader) simulationDuration(token string) error {
	d, err := wire.ParseInt(token)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("%w: simulation duration %d is not positive", ErrInvalidField, d)
	}
	r.task.SimulationDuration = d
	return nil
}

func (r *taskReader) warmupDuration(token string) error {
	d, err := wire.ParseInt(token)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: negative warm-up duration %d", ErrInvalidField, d)
	}
	r.task.WarmupDuration = d
	return nil
}

func (r *taskReader) situationEntry(token string) error {
	v, err := wire.ParseFloat(token)
	if err != nil {
		return err
	}
	r.task.Situation = append(r.task.Situation, v)
	return nil
}

func (r *taskReader) sectionID(token string) error {
	id, err := wire.ParseInt(token)
	if err != nil {
		return err
	}
	r.task.SectionIDs = append(r.task.SectionIDs, id)
	return nil
}
