package errors

import (
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	qe, ok := As(err)
	if !ok {
		qe = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", qe.Message)
	if qe.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", qe.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", qe.Code)

	return sb.String()
}

// LogAttrs returns slog attributes describing err, for use with
// slog.LogAttrs or as trailing arguments to slog.Warn/Error.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	qe, ok := As(err)
	if !ok {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", qe.Code),
		slog.String("error", qe.Message),
		slog.String("category", string(qe.Category)),
		slog.Bool("retryable", qe.Retryable),
	}
	if qe.Cause != nil && qe.Cause.Error() != qe.Message {
		attrs = append(attrs, slog.String("cause", qe.Cause.Error()))
	}
	for k, v := range qe.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
