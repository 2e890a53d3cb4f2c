// Package gateway exposes the three operations callers can invoke: list the
// allow-list, run an allowed artisan command, and list every artisan command.
//
// Operations never return errors. Host failures, tokenizer errors and
// non-zero exits are rendered into the Reply text.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/artisan-mcp/artisan-mcp/internal/config"
	"github.com/artisan-mcp/artisan-mcp/internal/executor"
	"github.com/artisan-mcp/artisan-mcp/internal/metrics"
	"github.com/artisan-mcp/artisan-mcp/internal/policy"
	"github.com/artisan-mcp/artisan-mcp/internal/shellwords"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

const (
	DefaultInterpreter = "php"

	OpListAuthorized = "list_whitelisted_commands"
	OpRun            = "run_artisan"
	OpListAll        = "list_all_artisan_commands"
)

var listAllArgs = []string{"list", "--format=txt"}

type Locator interface {
	Locate(name string) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, inv executor.Invocation) (executor.Outcome, error)
}

// EventSink receives one audit event per run or list operation.
type EventSink interface {
	AppendEvent(ctx context.Context, ev types.Event) error
}

type Gateway struct {
	cfg       *config.GatewayConfig
	whitelist *policy.Whitelist

	interpreter string
	locator     Locator
	exec        Executor
	runnerOpts  executor.Options
	sink        EventSink
	metrics     *metrics.Collector
	newID       func() string
}

func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("gateway: nil config")
	}
	g := &Gateway{
		cfg:         cfg,
		whitelist:   policy.NewWhitelist(cfg.AllowedPrefixes()),
		interpreter: DefaultInterpreter,
		locator:     executor.PathLocator{},
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(g)
	}
	if g.exec == nil {
		g.exec = executor.NewRunner(g.runnerOpts)
	}
	return g, nil
}

// Ready resolves the interpreter, so a missing executable can fail startup
// and readiness checks.
func (g *Gateway) Ready() (string, error) {
	return g.locator.Locate(g.interpreter)
}

func (g *Gateway) Config() *config.GatewayConfig { return g.cfg }

func (g *Gateway) WhitelistSize() int { return len(g.whitelist.Prefixes()) }

func (g *Gateway) ListAuthorizedCommands() Reply {
	g.metrics.IncReply(OpListAuthorized, string(StatusOK))
	return Reply{Text: renderWhitelist(g.whitelist.Prefixes()), Status: StatusOK}
}

// Run authorizes command against the allow-list, then tokenizes it and runs
// it through the entry script. A rejected command never reaches the
// locator or the executor.
func (g *Gateway) Run(ctx context.Context, command string) (reply Reply) {
	ev := g.newEvent(ctx, OpRun, command)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while running command", "exec_id", ev.ExecID, "panic", r)
			reply = Reply{Text: runErrorPrefix + fmt.Sprint(r), Status: StatusError}
			ev.Type = types.EventCommandError
			ev.Fields["error"] = fmt.Sprint(r)
		}
		g.finish(ctx, OpRun, reply, ev)
	}()

	dec := g.whitelist.Authorize(command)
	ev.Policy = &types.PolicyInfo{Decision: dec.Decision, Rule: dec.Rule, Message: dec.Message}
	if !dec.Allowed() {
		slog.Warn("command rejected", "exec_id", ev.ExecID, "command", command)
		ev.Type = types.EventCommandRejected
		return Reply{Text: renderRejection(command, g.whitelist.Prefixes()), Status: StatusRejected}
	}

	interp, err := g.locator.Locate(g.interpreter)
	if err != nil {
		return g.runError(ev, err)
	}
	args, err := shellwords.Split(command)
	if err != nil {
		return g.runError(ev, err)
	}

	out, err := g.spawn(ctx, ev, interp, args)
	if err != nil {
		return g.runError(ev, err)
	}
	if !out.Succeeded {
		return Reply{Text: runErrorPrefix + failureDetail(out.Stderr, out.Stdout, out.ExitCode), Status: StatusFailed}
	}
	return Reply{Text: out.Stdout, Status: StatusOK}
}

// ListAllCommands runs "list --format=txt" with no allow-list check.
func (g *Gateway) ListAllCommands(ctx context.Context) (reply Reply) {
	ev := g.newEvent(ctx, OpListAll, "")
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while listing commands", "exec_id", ev.ExecID, "panic", r)
			reply = Reply{Text: listEnvironmentPrefix + fmt.Sprint(r), Status: StatusError}
			ev.Type = types.EventCommandError
			ev.Fields["error"] = fmt.Sprint(r)
		}
		g.finish(ctx, OpListAll, reply, ev)
	}()

	interp, err := g.locator.Locate(g.interpreter)
	if err != nil {
		return g.listError(ev, err)
	}
	out, err := g.spawn(ctx, ev, interp, listAllArgs)
	if err != nil {
		return g.listError(ev, err)
	}
	if !out.Succeeded {
		return Reply{Text: listFailurePrefix + failureDetail(out.Stderr, out.Stdout, out.ExitCode), Status: StatusFailed}
	}
	return Reply{Text: out.Stdout, Status: StatusOK}
}

func (g *Gateway) spawn(ctx context.Context, ev *types.Event, interp string, args []string) (executor.Outcome, error) {
	inv := executor.Invocation{
		ID:          ev.ExecID,
		Interpreter: interp,
		EntryScript: g.cfg.EntryScriptPath(),
		WorkingDir:  g.cfg.WorkingDirectory(),
		Args:        args,
	}
	ev.Argv = inv.Argv()
	ev.WorkingDir = inv.WorkingDir

	done := g.metrics.ExecStarted()
	out, err := g.exec.Execute(ctx, inv)
	done()
	if err != nil {
		return out, err
	}

	code := out.ExitCode
	ev.PID = out.PID
	ev.ExitCode = &code
	ev.DurationMs = out.Duration.Milliseconds()
	if out.StdoutTruncated || out.StderrTruncated {
		ev.Fields["output_truncated"] = true
	}
	if out.Succeeded {
		ev.Type = types.EventCommandExecuted
	} else {
		ev.Type = types.EventCommandFailed
	}
	return out, nil
}

func (g *Gateway) runError(ev *types.Event, err error) Reply {
	slog.Error("failed to execute command", "exec_id", ev.ExecID, "error", err)
	markError(ev, err)
	return Reply{Text: runErrorPrefix + err.Error(), Status: StatusError}
}

func (g *Gateway) listError(ev *types.Event, err error) Reply {
	slog.Error("failed to list commands", "exec_id", ev.ExecID, "error", err)
	markError(ev, err)
	return Reply{Text: listEnvironmentPrefix + err.Error(), Status: StatusError}
}

func markError(ev *types.Event, err error) {
	ev.Type = types.EventCommandError
	ev.Fields["error"] = err.Error()
	var envErr *executor.EnvironmentError
	if errors.As(err, &envErr) {
		ev.Fields["error_kind"] = envErr.Kind.String()
	}
	var parseErr *shellwords.ParseError
	if errors.As(err, &parseErr) {
		ev.Fields["error_kind"] = "parse_error"
	}
}

func (g *Gateway) newEvent(ctx context.Context, op, command string) *types.Event {
	return &types.Event{
		ExecID:  g.newID(),
		Type:    types.EventCommandError,
		Source:  SourceFromContext(ctx),
		Command: command,
		Fields:  map[string]any{"operation": op},
	}
}

func (g *Gateway) finish(ctx context.Context, op string, reply Reply, ev *types.Event) {
	g.metrics.IncReply(op, string(reply.Status))
	if g.sink == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()
	// Record even when the caller has gone away.
	if err := g.sink.AppendEvent(context.WithoutCancel(ctx), *ev); err != nil {
		slog.Warn("failed to record audit event", "exec_id", ev.ExecID, "type", ev.Type, "error", err)
	}
}
