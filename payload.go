package bugstr

import (
	"regexp"
	"runtime"
	"strings"
	"time"
)

// Payload is the report as serialized and sealed for the recipient.
type Payload struct {
	Message     string `json:"message"`
	Stack       string `json:"stack,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Environment string `json:"environment,omitempty"`
	Release     string `json:"release,omitempty"`
}

// Summary is what a ConfirmSend hook gets to show the user. It carries no
// more than the message and the top of the stack.
type Summary struct {
	Message      string
	StackPreview string
}

// defaultRedactions cover secrets that commonly leak into error text in
// wallet software: cashu tokens, lightning invoices, bech32 keys, and
// mint URLs.
var defaultRedactions = []*regexp.Regexp{
	regexp.MustCompile(`cashuA[A-Za-z0-9+/=_-]+`),
	regexp.MustCompile(`(?i)lnbc[a-z0-9]+`),
	regexp.MustCompile(`npub1[a-z0-9]+`),
	regexp.MustCompile(`nsec1[a-z0-9]+`),
	regexp.MustCompile(`https?://[^\s"]*mint[^\s"]*`),
}

const maxStackBytes = 16 * 1024

func (r *Reporter) buildPayload(err error) *Payload {
	stack := make([]byte, maxStackBytes)
	stack = stack[:runtime.Stack(stack, false)]

	return &Payload{
		Message:     r.redact(err.Error()),
		Stack:       r.redact(string(stack)),
		Timestamp:   time.Now().Unix(),
		Environment: r.config.Environment,
		Release:     r.config.Release,
	}
}

func (r *Reporter) redact(s string) string {
	for _, re := range r.config.RedactPatterns {
		s = re.ReplaceAllString(s, "[redacted]")
	}
	return s
}

// truncateStack keeps the first n lines of a stack trace.
func truncateStack(stack string, n int) string {
	lines := strings.Split(stack, "\n")
	if len(lines) <= n {
		return stack
	}
	return strings.Join(lines[:n], "\n")
}
