package otel

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

// convertToLogRecord converts an audit Event to an OTEL log Record.
func convertToLogRecord(ev types.Event) otellog.Record {
	var rec otellog.Record

	rec.SetTimestamp(ev.Timestamp)
	rec.SetBody(otellog.StringValue(eventBody(ev)))
	sev := eventSeverity(ev)
	rec.SetSeverity(sev)
	rec.SetSeverityText(sev.String())
	rec.AddAttributes(eventAttributes(ev)...)

	return rec
}

// eventBody returns a one-line summary, e.g. "command_rejected: migrate:fresh [deny]".
func eventBody(ev types.Event) string {
	decision := ""
	if ev.Policy != nil && ev.Policy.Decision != "" {
		decision = " [" + string(ev.Policy.Decision) + "]"
	}
	target := ev.Command
	if target == "" && len(ev.Argv) > 2 {
		target = strings.Join(ev.Argv[2:], " ")
	}
	if target != "" {
		return fmt.Sprintf("%s: %s%s", ev.Type, target, decision)
	}
	return ev.Type + decision
}

func eventSeverity(ev types.Event) otellog.Severity {
	switch ev.Type {
	case types.EventCommandError:
		return otellog.SeverityError
	case types.EventCommandRejected, types.EventCommandFailed:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}

// eventAttributes uses semantic conventions for process data and the
// artisan.* namespace for everything else.
func eventAttributes(ev types.Event) []otellog.KeyValue {
	var attrs []otellog.KeyValue

	if ev.PID != 0 {
		attrs = append(attrs, otellog.Int("process.pid", ev.PID))
	}
	if len(ev.Argv) > 0 {
		attrs = append(attrs, otellog.String("process.executable.path", ev.Argv[0]))
		args := make([]otellog.Value, 0, len(ev.Argv))
		for _, a := range ev.Argv {
			args = append(args, otellog.StringValue(a))
		}
		attrs = append(attrs, otellog.Slice("process.command_args", args...))
	}
	if ev.ExitCode != nil {
		attrs = append(attrs, otellog.Int("process.exit.code", *ev.ExitCode))
	}
	if ev.WorkingDir != "" {
		attrs = append(attrs, otellog.String("process.working_directory", ev.WorkingDir))
	}

	if ev.ID != "" {
		attrs = append(attrs, otellog.String("artisan.event.id", ev.ID))
	}
	attrs = append(attrs, otellog.String("artisan.event.type", ev.Type))
	if ev.ExecID != "" {
		attrs = append(attrs, otellog.String("artisan.exec.id", ev.ExecID))
	}
	if ev.Source != "" {
		attrs = append(attrs, otellog.String("artisan.source", ev.Source))
	}
	if ev.Command != "" {
		attrs = append(attrs, otellog.String("artisan.command", ev.Command))
	}
	if ev.DurationMs > 0 {
		attrs = append(attrs, otellog.Int64("artisan.duration_ms", ev.DurationMs))
	}
	if ev.Policy != nil {
		if ev.Policy.Decision != "" {
			attrs = append(attrs, otellog.String("artisan.decision", string(ev.Policy.Decision)))
		}
		if ev.Policy.Rule != "" {
			attrs = append(attrs, otellog.String("artisan.policy.rule", ev.Policy.Rule))
		}
	}

	for _, key := range []string{"operation", "error", "error_kind", "output_truncated"} {
		v, ok := ev.Fields[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				attrs = append(attrs, otellog.String("artisan."+key, val))
			}
		case bool:
			attrs = append(attrs, otellog.Bool("artisan."+key, val))
		case int:
			attrs = append(attrs, otellog.Int("artisan."+key, val))
		}
	}

	return attrs
}

// BuildResource creates an OTEL Resource carrying the service name and
// version.
func BuildResource(serviceName, version string) *resource.Resource {
	kvs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if version != "" {
		kvs = append(kvs, semconv.ServiceVersion(version))
	}
	res, _ := resource.New(context.Background(), resource.WithAttributes(kvs...))
	return res
}
