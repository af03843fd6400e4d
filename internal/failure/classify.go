package failure

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/rpc"
)

const (
	maxReasonLen  = 100
	maxUnknownLen = 150
)

// Classification is the result of mapping a raw failure onto the taxonomy.
type Classification struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Classifier maps arbitrary failures onto a Kind and a user-facing message.
// Implementations must not panic.
type Classifier interface {
	Classify(err error) Classification
}

// Default is the classifier used by Classify.
var Default Classifier = HeuristicClassifier{}

// Classify runs the default classifier.
func Classify(err error) Classification {
	return Default.Classify(err)
}

// rule matches lowercased error text. First match wins.
type rule struct {
	kind     Kind
	patterns []string
	message  string
}

var rules = []rule{
	{kind: UserCancelled, patterns: []string{"user rejected", "user denied", "request rejected", "rejected the request", "user cancelled", "user canceled"}},
	{kind: Throttled, patterns: []string{"rate limit", "too many requests"}},
	{kind: DuplicateAction, patterns: []string{"already signed", "duplicate signature", "duplicate"}},
	{kind: WindowClosed, patterns: []string{"petition has ended", "petition expired", "has ended", "signing closed"},
		message: "This petition has already ended and is no longer accepting signatures."},
	{kind: WindowClosed, patterns: []string{"not started", "too early"},
		message: "This petition hasn't started yet. Please wait until the start date."},
	{kind: InsufficientFunds, patterns: []string{"insufficient funds", "insufficient balance", "exceeds balance", "not enough funds", "gas required exceeds"}},
	{kind: NetworkError, patterns: []string{"network", "connection", "dial tcp", "no such host", "i/o timeout", "timed out", "timeout", "deadline exceeded", "broken pipe"}},
	{kind: StorageError, patterns: []string{"ipfs", "failed to fetch", "pinning", "gateway", "upload failed"}},
}

var (
	reasonPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^[ \t]*reason:[ \t]*(.+?)[ \t]*$`),
		regexp.MustCompile(`(?i)execution reverted:\s*(.+?)(?:\n|$)`),
		regexp.MustCompile(`(?i)reverted with reason string\s*'(.+?)'`),
	}
	hexRun     = regexp.MustCompile(`0x[0-9a-fA-F]*`)
	whitespace = regexp.MustCompile(`\s+`)
)

// HeuristicClassifier classifies by inspecting error text. The text is the
// only signal most RPC providers and wallets give, so the patterns track
// their wording.
type HeuristicClassifier struct{}

// Classify implements Classifier.
func (HeuristicClassifier) Classify(err error) (c Classification) {
	defer func() {
		if r := recover(); r != nil {
			c = Classification{Kind: UnknownError, Message: UnknownError.Message()}
		}
	}()

	if err == nil {
		return Classification{Kind: UnknownError, Message: UnknownError.Message()}
	}

	if c, ok := classifyTyped(err); ok {
		return c
	}

	full := errorText(err)
	lower := strings.ToLower(full)

	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				msg := r.message
				if msg == "" {
					msg = r.kind.Message()
				}
				return Classification{Kind: r.kind, Message: msg}
			}
		}
	}

	if strings.Contains(lower, "revert") {
		return Classification{Kind: ContractRejected, Message: revertMessage(full)}
	}

	return Classification{Kind: UnknownError, Message: unknownMessage(full)}
}

func classifyTyped(err error) (Classification, bool) {
	var prep *PreparationError
	if errors.As(err, &prep) {
		if inner := Classify(prep.Err); inner.Kind == UserCancelled {
			return inner, true
		}
		return Classification{Kind: PreparationFailed, Message: PreparationFailed.Message()}, true
	}

	var enum *UnknownEnumValueError
	if errors.As(err, &enum) {
		return Classification{Kind: UnknownEnumValue, Message: UnknownEnumValue.Message()}, true
	}

	var norm *NormalizationError
	if errors.As(err, &norm) {
		return Classification{Kind: NormalizationFailed, Message: NormalizationFailed.Message()}, true
	}

	var meta *MetadataUnavailableError
	if errors.As(err, &meta) {
		return Classification{Kind: StorageError, Message: StorageError.Message()}, true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: NetworkError, Message: NetworkError.Message()}, true
	}

	return Classification{}, false
}

// errorText joins the error string with any revert data an RPC error carries.
func errorText(err error) string {
	text := err.Error()

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := dataErr.ErrorData(); data != nil {
			if s, ok := data.(string); ok && s != "" {
				text += "\n" + s
			} else {
				text += "\n" + fmt.Sprint(data)
			}
		}
	}

	return text
}

func revertMessage(full string) string {
	for _, re := range reasonPatterns {
		m := re.FindStringSubmatch(full)
		if len(m) < 2 {
			continue
		}
		reason := strings.TrimSpace(m[1])
		if reason == "" {
			continue
		}
		if len(reason) >= maxReasonLen || strings.Contains(strings.ToLower(reason), "0x") {
			return "Transaction failed. Please check the petition details and try again."
		}
		return "Transaction failed: " + reason
	}
	return ContractRejected.Message()
}

func unknownMessage(full string) string {
	line := full
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = hexRun.ReplaceAllString(line, "")
	line = strings.TrimSpace(whitespace.ReplaceAllString(line, " "))
	if line == "" {
		return UnknownError.Message()
	}
	if len(line) > maxUnknownLen {
		line = strings.TrimSpace(truncate(line, maxUnknownLen-3)) + "..."
	}
	return line
}

// truncate cuts s to at most limit bytes without splitting a rune
func truncate(s string, limit int) string {
	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if n+size > limit {
			break
		}
		n += size
	}
	return s[:n]
}
