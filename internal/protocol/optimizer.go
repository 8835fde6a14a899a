package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tlcopt/internal/model"
	"tlcopt/internal/phase"
	"tlcopt/internal/turning"
	"tlcopt/internal/wire"
)

var ErrUnexpectedToken = errors.New("unexpected token")

// Optimizer is the optimizer side of a session. It paces every send with a
// receive, so it is safe to use with raw framing.
type Optimizer struct {
	conn *wire.Conn
}

func NewOptimizer(conn *wire.Conn) *Optimizer {
	return &Optimizer{conn: conn}
}

func (o *Optimizer) Conn() *wire.Conn { return o.conn }

// TaskAck holds the server's replies to a task.
type TaskAck struct {
	NetworkOK bool
	// Statuses has one token per field; lists contribute their closing
	// token.
	Statuses []string
}

// TaskRequest is what SendTask transmits. An empty Network sends NONE.
// Raw tokens, when set, replace the formatted situation and section ids.
type TaskRequest struct {
	Network string
	Task    model.TaskDescriptor

	SituationTokens []string
	SectionTokens   []string
}

// SendTask runs the bootstrap fields of the protocol. It stops after a
// network failure and returns ErrNetworkUnavailable.
func (o *Optimizer) SendTask(req TaskRequest) (TaskAck, error) {
	var ack TaskAck
	name := req.Network
	if name == "" {
		name = TokenNone
	}
	reply, err := o.call(name)
	if err != nil {
		return ack, err
	}
	if reply != TokenNetworkOK {
		return ack, fmt.Errorf("%w: server replied %s", ErrNetworkUnavailable, reply)
	}
	ack.NetworkOK = true

	task := req.Task
	scalars := []string{
		strconv.Itoa(task.ReplicationID),
		wire.FormatFloat(task.PointInTime),
		strconv.Itoa(task.JunctionID),
		strconv.Itoa(task.SimulationDuration),
		strconv.Itoa(task.WarmupDuration),
	}
	for _, token := range scalars {
		reply, err := o.call(token)
		if err != nil {
			return ack, err
		}
		ack.Statuses = append(ack.Statuses, reply)
	}

	situation := req.SituationTokens
	if situation == nil {
		for _, v := range task.Situation {
			situation = append(situation, wire.FormatFloat(v))
		}
	}
	sections := req.SectionTokens
	if sections == nil {
		for _, id := range task.SectionIDs {
			sections = append(sections, strconv.Itoa(id))
		}
	}
	for _, list := range []struct {
		entries  []string
		sentinel string
		entryOK  string
	}{
		{situation, TokenSituationDone, TokenSituationEntryOK},
		{sections, TokenSectionIDsDone, TokenSectionIDOK},
	} {
		status, err := o.sendList(list.entries, list.sentinel, list.entryOK)
		if err != nil {
			return ack, err
		}
		ack.Statuses = append(ack.Statuses, status)
	}
	return ack, nil
}

// sendList sends entries until one is rejected, then the sentinel if all
// were accepted. It returns the closing status.
func (o *Optimizer) sendList(entries []string, sentinel, entryOK string) (string, error) {
	for _, entry := range entries {
		reply, err := o.call(entry)
		if err != nil {
			return "", err
		}
		if reply != entryOK {
			return reply, nil
		}
	}
	return o.call(sentinel)
}

// RequestTurnings asks for the motorized turnings of the junction.
func (o *Optimizer) RequestTurnings() ([]model.Turning, error) {
	reply, err := o.call(TokenWaitingForTurnings)
	if err != nil {
		return nil, err
	}
	return turning.Decode(reply)
}

// RequestPhases asks for the phase report and rebuilds the plan from it.
func (o *Optimizer) RequestPhases() (model.PhasePlan, error) {
	reply, err := o.call(TokenWaitingForPhases)
	if err != nil {
		return model.PhasePlan{}, err
	}
	count, err := wire.ParseInt(reply)
	if err != nil {
		return model.PhasePlan{}, fmt.Errorf("phase count: %w", err)
	}
	plan := model.PhasePlan{Phases: make([]model.Phase, 0, count)}
	for i := 0; i < count; i++ {
		line, err := o.call(TokenWaitingNextPhase)
		if err != nil {
			return model.PhasePlan{}, err
		}
		p, err := phase.ParseReportLine(line)
		if err != nil {
			return model.PhasePlan{}, fmt.Errorf("phase %d: %w", i+1, err)
		}
		p.ID = i + 1
		plan.Phases = append(plan.Phases, p)
	}
	phase.Recompute(&plan)
	return plan, nil
}

// AwaitInit waits for INIT_DONE.
func (o *Optimizer) AwaitInit() error {
	token, err := o.conn.Recv()
	if err != nil {
		return err
	}
	return expectToken(token, TokenInitDone)
}

// NewGeneration announces a generation and sets its seed.
func (o *Optimizer) NewGeneration(seed int64) error {
	if err := o.expectCall(TokenNewGen, TokenNewGenRecv); err != nil {
		return err
	}
	return o.expectCall(strconv.FormatInt(seed, 10), TokenSeedSet)
}

// NewSimulationDuration changes the simulated time span of the session.
func (o *Optimizer) NewSimulationDuration(seconds int) error {
	if err := o.expectCall(TokenNewSimDur, TokenNewSimDurRecv); err != nil {
		return err
	}
	return o.expectCall(strconv.Itoa(seconds), TokenSimDurSet)
}

// Evaluate sends one individual and returns the server's final reply:
// SIM_DONE, SIM_FAILED or READY.
func (o *Optimizer) Evaluate(genes model.Individual) (string, error) {
	tokens := make([]string, len(genes))
	for i, g := range genes {
		tokens[i] = strconv.Itoa(g)
	}
	return o.EvaluateTokens(tokens)
}

// EvaluateTokens is Evaluate with preformatted genes.
func (o *Optimizer) EvaluateTokens(genes []string) (string, error) {
	if err := o.conn.Send(TokenNewInd); err != nil {
		return "", err
	}
	sent := 0
	for {
		token, err := o.conn.Recv()
		if err != nil {
			return "", err
		}
		if token != TokenNextAllele {
			if sent != len(genes) {
				return token, fmt.Errorf("server took %d of %d genes", sent, len(genes))
			}
			return token, nil
		}
		if sent == len(genes) {
			return "", fmt.Errorf("server asked for more than %d genes", len(genes))
		}
		if err := o.conn.Send(genes[sent]); err != nil {
			return "", err
		}
		sent++
	}
}

// Done ends the session. The server then waits for the next task on the
// same connection.
func (o *Optimizer) Done() error {
	return o.conn.Send(TokenDone)
}

func (o *Optimizer) call(token string) (string, error) {
	if err := o.conn.Send(token); err != nil {
		return "", err
	}
	return o.conn.Recv()
}

func (o *Optimizer) expectCall(token, want string) error {
	reply, err := o.call(token)
	if err != nil {
		return err
	}
	return expectToken(reply, want)
}

func expectToken(got, want string) error {
	if !strings.HasPrefix(got, want) {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedToken, got, want)
	}
	return nil
}
