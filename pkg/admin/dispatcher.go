package admin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EventStore/esdb-tui/pkg/conn"
	"github.com/EventStore/esdb-tui/pkg/transport"
	"github.com/EventStore/esdb-tui/pkg/wire"
)

// ErrDuplicateCorrelation is returned when a command is submitted
// with a correlation id that is already in flight or already
// completed within the dispatcher's history.
var ErrDuplicateCorrelation = errors.New("duplicate correlation id")

// Outcome is the terminal state of a dispatched command.
type Outcome int

const (
	Success Outcome = iota + 1
	Failure
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result is the single terminal report for one submitted command.
// Every accepted command produces exactly one Result, even when the
// node never answers.
type Result struct {
	CorrelationID string
	Op            wire.AdminOp
	Outcome       Outcome
	Detail        string
	CompletedAt   time.Time
}

// Config controls a Dispatcher.
type Config struct {
	// Manager executes commands against the current connection.
	Manager *conn.Manager

	// Timeout bounds each command. When it elapses without a node
	// response a Timeout result is synthesized. Default 10s.
	Timeout time.Duration

	// HistorySize bounds how many completed correlation ids are
	// remembered for duplicate rejection. Default 128.
	HistorySize int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 128
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Dispatcher tracks in-flight administrative commands and delivers
// exactly one Result per accepted submission. Commands are never
// retried; an ambiguous outcome surfaces as Timeout and the operator
// decides what to do next.
type Dispatcher struct {
	cfg     Config
	log     *slog.Logger
	results chan Result

	mu       sync.Mutex
	inflight map[string]*pendingCommand
	done     []string
	doneSet  map[string]struct{}
}

type pendingCommand struct {
	op     wire.AdminOp
	timer  *time.Timer
	cancel context.CancelFunc
}

func NewDispatcher(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "admin"),
		results:  make(chan Result, 32),
		inflight: make(map[string]*pendingCommand),
		doneSet:  make(map[string]struct{}),
	}
}

// Results delivers one Result per accepted command.
func (d *Dispatcher) Results() <-chan Result { return d.results }

// Submit validates the intent, assigns a fresh correlation id and
// executes the command asynchronously. The id is returned so callers
// can match the eventual Result.
func (d *Dispatcher) Submit(ctx context.Context, intent Intent) (string, error) {
	return d.SubmitWithID(ctx, uuid.NewString(), intent)
}

// SubmitWithID is Submit with a caller-chosen correlation id.
// Resubmitting an id that is in flight or recently completed fails
// with ErrDuplicateCorrelation instead of running the command twice.
func (d *Dispatcher) SubmitWithID(ctx context.Context, id string, intent Intent) (string, error) {
	if err := intent.Validate(); err != nil {
		return "", err
	}

	cmdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)

	d.mu.Lock()
	if _, dup := d.inflight[id]; dup {
		d.mu.Unlock()
		cancel()
		return "", ErrDuplicateCorrelation
	}
	if _, dup := d.doneSet[id]; dup {
		d.mu.Unlock()
		cancel()
		return "", ErrDuplicateCorrelation
	}
	pc := &pendingCommand{op: intent.Op(), cancel: cancel}
	pc.timer = time.AfterFunc(d.cfg.Timeout, func() {
		d.complete(id, Result{
			CorrelationID: id,
			Op:            pc.op,
			Outcome:       Timeout,
			Detail:        "no response within " + d.cfg.Timeout.String(),
		})
	})
	d.inflight[id] = pc
	d.mu.Unlock()

	d.log.Info("command submitted", "correlation_id", id, "op", pc.op.String())
	go d.execute(cmdCtx, id, intent)
	return id, nil
}

func (d *Dispatcher) execute(ctx context.Context, id string, intent Intent) {
	var resp *wire.AdminResponse
	err := d.cfg.Manager.Do(ctx, func(ctx context.Context, c *transport.Conn) error {
		var err error
		resp, err = c.Admin(ctx, intent.request(id))
		return err
	})

	switch {
	case err == nil && resp.Success:
		d.complete(id, Result{CorrelationID: id, Op: intent.Op(), Outcome: Success, Detail: resp.Message})
	case err == nil:
		d.complete(id, Result{CorrelationID: id, Op: intent.Op(), Outcome: Failure, Detail: resp.Message})
	case ctx.Err() != nil:
		// The command deadline aborted the call; the timer owns the
		// Timeout result. The error itself is checked only after the
		// context so a deadline that raced a real failure still reads
		// as Timeout.
	default:
		d.complete(id, Result{CorrelationID: id, Op: intent.Op(), Outcome: Failure, Detail: err.Error()})
	}
}

// complete delivers the result for id unless something already did.
// The first caller wins; the in-flight entry is the gate.
func (d *Dispatcher) complete(id string, res Result) {
	d.mu.Lock()
	pc, ok := d.inflight[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.inflight, id)
	d.doneSet[id] = struct{}{}
	d.done = append(d.done, id)
	if len(d.done) > d.cfg.HistorySize {
		evicted := d.done[0]
		d.done = d.done[1:]
		delete(d.doneSet, evicted)
	}
	d.mu.Unlock()

	pc.timer.Stop()
	pc.cancel()

	res.CompletedAt = time.Now()
	d.log.Info("command completed",
		"correlation_id", id, "op", res.Op.String(), "outcome", res.Outcome.String())
	d.results <- res
}
