package gateway

import "context"

type sourceKey struct{}

// WithSource tags ctx with the transport a request arrived on ("stdio",
// "http", "cli"). The tag is copied into audit events.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func SourceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}
