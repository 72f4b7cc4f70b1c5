package resolver

import (
	"regexp"
	"strings"
)

type pattern struct {
	intent Intent
	re     *regexp.Regexp
}

// patterns are tried in order; the first match wins. More specific
// phrasings sit above the general ones they would otherwise lose to.
var patterns = []pattern{
	{IntentCancel, regexp.MustCompile(`(?i)^\s*(cancel|never\s*mind|nevermind|forget\s+(it|that)|start\s+over|stop|abort)\s*[.!]*\s*$`)},
	{IntentHelp, regexp.MustCompile(`(?i)^\s*(help|what can you do\??|menu)\s*[.!?]*\s*$`)},

	{IntentCancelInvoice, regexp.MustCompile(`(?i)\b(cancel|void)\b.*\binvoice\b`)},
	{IntentGenerateInvoices, regexp.MustCompile(`(?i)\b(generate|create|raise|prepare)\b.*\binvoices?\b`)},
	{IntentIssueInvoices, regexp.MustCompile(`(?i)\b(issue|send\s+out|finali[sz]e)\b.*\binvoices?\b`)},
	{IntentListUnpaid, regexp.MustCompile(`(?i)\b(unpaid|outstanding|arrears|owing|defaulters|not\s+paid|haven'?t\s+paid)\b`)},
	{IntentShowStudent, regexp.MustCompile(`(?i)\b(show|view|get|what'?s|what\s+is|check)\b.*\b(invoice|balance|statement)\s+(for|of)\b|\bhow\s+much\s+does\b.*\bowe\b|\bbalance\s+for\b`)},
	{IntentListInvoices, regexp.MustCompile(`(?i)\b(list|show|view|all|which)\b.*\binvoices\b`)},
	{IntentRecordPayment, regexp.MustCompile(`(?i)\b(record|receive[d]?|post|log|enter)\b.*\bpayment\b|\bhas\s+paid\b|\bpaid\b.*\d|\bpay(?:s|ment)\s+(?:of\s+)?(?:ksh\.?\s*|kes\s*)?\d`)},

	{IntentSetDefault, regexp.MustCompile(`(?i)\b(make|set|use)\b.*\bdefault\b|\bdefault\s+(fee\s+)?structure\s+(to|is)\b`)},
	{IntentCreateStructure, regexp.MustCompile(`(?i)\b(create|new|set\s*up|make|start)\b.*\b(fee\s+)?structure\b`)},
	{IntentListStructures, regexp.MustCompile(`(?i)\b(list|show|what|which|all)\b.*\b(fee\s+)?structures\b`)},
	{IntentPublishStructure, regexp.MustCompile(`(?i)\bpublish\b`)},
	{IntentRemoveItem, regexp.MustCompile(`(?i)^\s*(remove|delete|drop|take\s+out)\b`)},
	{IntentAddItem, regexp.MustCompile(`(?i)^\s*(add|include|put)\b|\badd\b.*\b(item|fee)\b`)},
	{IntentShowStructure, regexp.MustCompile(`(?i)\b(show|view|display|what\s+are|list)\b.*\b(fee\s+items|items|fees|structure)\b`)},
}

// detect returns the intent whose pattern matches text, or "".
func detect(text string) Intent {
	text = strings.TrimSpace(text)
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.intent
		}
	}
	return ""
}

func knownIntent(s string) (Intent, bool) {
	in := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range Intents {
		if k == in {
			return in, true
		}
	}
	return "", false
}

// IntentNames returns Intents as strings, for the understanding prompt.
func IntentNames() []string {
	out := make([]string, len(Intents))
	for i, in := range Intents {
		out[i] = string(in)
	}
	return out
}
