package capture

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/visreg/artifact"
)

var (
	timeoutKeywords  = []string{"timeout", "timed out", "deadline exceeded"}
	networkKeywords  = []string{"net::err", "network", "connection refused", "connection reset", "no such host", "dns", "unreachable"}
	notFoundKeywords = []string{"not found", "no element", "cannot find", "no node"}
	browserKeywords  = []string{"crash", "browser", "target closed", "session closed", "websocket", "disconnected"}
)

// Classify maps a runtime failure to an error code. Errors that already
// carry an *artifact.Error keep their code.
// The failing sequence step, when known, is recorded under Details["step"].
func Classify(err error) *artifact.Error {
	if err == nil {
		return nil
	}
	aerr := classify(err)
	var se *stepError
	if errors.As(err, &se) && StepOf(aerr) == "" {
		aerr = aerr.WithDetail("step", se.step)
	}
	return aerr
}

func classify(err error) *artifact.Error {
	if ae, ok := artifact.AsError(err); ok {
		return ae
	}
	if errors.Is(err, ErrUnavailable) {
		return artifact.NewError(artifact.CodeBrowser, "%s", err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return artifact.NewError(artifact.CodeTimeout, "%s", err.Error())
	}
	return artifact.NewError(classifyMessage(err.Error()), "%s", err.Error())
}

func classifyMessage(msg string) artifact.Code {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, timeoutKeywords):
		return artifact.CodeTimeout
	case containsAny(msg, networkKeywords):
		return artifact.CodeNetwork
	case containsAny(msg, notFoundKeywords):
		return artifact.CodeElementNotFound
	case containsAny(msg, browserKeywords):
		return artifact.CodeBrowser
	}
	return artifact.CodeCaptureFailed
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
