// Package engine runs simulation replications for a prepared network.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"tlcopt/internal/network"
)

var ErrSimulationFailed = errors.New("simulation failed")

// Run describes one finished replication.
type Run struct {
	ID            string
	ReplicationID int
	Seed          int64
	StartedAt     time.Time
	Elapsed       time.Duration
	DryRun        bool
	Output        string
}

// Local opens network files from disk and simulates replications either by
// handing a msgpack request to an external simulator command on stdin or, if
// no command is set, as a dry run that only checks the setup is complete.
type Local struct {
	Command string
	Args    []string
	Timeout time.Duration
	Logger  *slog.Logger
}

func (e *Local) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// Open loads a network file.
func (e *Local) Open(path string) (*network.Network, error) {
	return network.Load(path)
}

// Simulate runs one replication with its current random seed.
func (e *Local) Simulate(ctx context.Context, net *network.Network, replicationID int) (Run, error) {
	req, err := NewRequest(net, replicationID)
	if err != nil {
		return Run{}, err
	}
	run := Run{
		ID:            req.RunID,
		ReplicationID: replicationID,
		Seed:          req.Seed,
		StartedAt:     time.Now().UTC(),
		DryRun:        e.Command == "",
	}

	if !run.DryRun {
		run.Output, err = e.exec(ctx, req)
		if err != nil {
			return Run{}, err
		}
	}
	run.Elapsed = time.Since(run.StartedAt)
	e.logger().Debug("simulated replication", "run", run.ID, "replication", replicationID, "seed", run.Seed, "dry_run", run.DryRun, "elapsed", run.Elapsed)
	return run, nil
}

func (e *Local) exec(ctx context.Context, req Request) (string, error) {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode simulation request: %w", err)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("%w: replication %d: %w", ErrSimulationFailed, req.Replication, err)
		}
		return "", fmt.Errorf("%w: replication %d: %w: %s", ErrSimulationFailed, req.Replication, err, msg)
	}
	return stdout.String(), nil
}

// Request is the msgpack document handed to an external simulator.
type Request struct {
	RunID       string                  `msgpack:"run_id"`
	Network     string                  `msgpack:"network"`
	Replication int                     `msgpack:"replication"`
	Seed        int64                   `msgpack:"seed"`
	Warmup      int                     `msgpack:"warmup"`
	Extensions  []string                `msgpack:"extensions"`
	Results     ResultsRequest          `msgpack:"results"`
	Demand      []DemandRequest         `msgpack:"demand"`
	Policies    []int                   `msgpack:"policies"`
	Junctions   []JunctionTimingRequest `msgpack:"junctions"`
}

type ResultsRequest struct {
	Database string `msgpack:"database"`
	Interval int    `msgpack:"interval"`
	Sections bool   `msgpack:"sections"`
	Turns    bool   `msgpack:"turns"`
}

type DemandRequest struct {
	Item     int     `msgpack:"item"`
	From     float64 `msgpack:"from"`
	Duration float64 `msgpack:"duration"`
	Factor   float64 `msgpack:"factor"`
}

type JunctionTimingRequest struct {
	Node   int            `msgpack:"node"`
	Type   string         `msgpack:"type"`
	Cycle  float64        `msgpack:"cycle"`
	Phases []PhaseRequest `msgpack:"phases"`
}

type PhaseRequest struct {
	Interphase          bool    `msgpack:"interphase"`
	From                float64 `msgpack:"from"`
	Duration            float64 `msgpack:"duration"`
	Min                 float64 `msgpack:"min"`
	MaxInitial          float64 `msgpack:"max_initial"`
	Max                 float64 `msgpack:"max"`
	SecondsPerActuation float64 `msgpack:"seconds_per_actuation"`
	PassageTime         float64 `msgpack:"passage_time"`
}

// NewRequest resolves a replication and snapshots everything a simulator
// needs to run it.
func NewRequest(net *network.Network, replicationID int) (Request, error) {
	rep, err := net.Replication(replicationID)
	if err != nil {
		return Request{}, err
	}
	exp, err := net.Experiment(rep.Experiment)
	if err != nil {
		return Request{}, fmt.Errorf("replication %d: %w", replicationID, err)
	}
	scenario, err := net.Scenario(exp.Scenario)
	if err != nil {
		return Request{}, fmt.Errorf("experiment %d: %w", exp.ID, err)
	}
	demand, err := net.TrafficDemand(scenario.Demand)
	if err != nil {
		return Request{}, fmt.Errorf("scenario %d: %w", scenario.ID, err)
	}
	master, err := net.MasterControlPlan(scenario.MasterControlPlan)
	if err != nil {
		return Request{}, fmt.Errorf("scenario %d: %w", scenario.ID, err)
	}

	req := Request{
		RunID:       uuid.NewString(),
		Network:     net.Path,
		Replication: rep.ID,
		Seed:        rep.RandomSeed,
		Warmup:      exp.Warmup,
		Extensions:  append([]string(nil), scenario.Extensions...),
		Results: ResultsRequest{
			Database: scenario.Results.Database,
			Interval: scenario.Results.StatisticsInterval,
			Sections: scenario.Results.SectionStatistics,
			Turns:    scenario.Results.TurnStatistics,
		},
		Policies: append([]int(nil), exp.Policies...),
	}
	for _, item := range demand.Schedule {
		req.Demand = append(req.Demand, DemandRequest{Item: item.Item, From: item.From, Duration: item.Duration, Factor: item.Factor})
	}

	seen := map[int]bool{}
	for _, item := range master.Schedule {
		if seen[item.ControlPlan] {
			continue
		}
		seen[item.ControlPlan] = true
		plan, err := net.ControlPlan(item.ControlPlan)
		if err != nil {
			return Request{}, fmt.Errorf("master control plan %d: %w", master.ID, err)
		}
		for _, junction := range plan.Junctions {
			timing := JunctionTimingRequest{Node: junction.Node, Type: string(junction.Type), Cycle: junction.Cycle}
			for _, p := range junction.Phases {
				timing.Phases = append(timing.Phases, PhaseRequest{
					Interphase:          p.Interphase,
					From:                p.From,
					Duration:            p.Duration,
					Min:                 p.Min,
					MaxInitial:          p.MaxInitial,
					Max:                 p.Max,
					SecondsPerActuation: p.SecondsPerActuation,
					PassageTime:         p.PassageTime,
				})
			}
			req.Junctions = append(req.Junctions, timing)
		}
	}
	return req, nil
}
