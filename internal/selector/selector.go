// Package selector picks a backend model id and reasoning-effort hint from
// the content of a request. It is a pure function with no I/O, grounded on
// proxy_common.py's BaseModelSelector and xai_adapter.py's keyword-scored
// select_model, adapted to spec's fixed five-rule priority order.
package selector

import "strings"

// Models is the set of backend model ids one Adapter offers to the
// Selector. Each Adapter constructs one of these at startup from its own
// fixed model ids.
type Models struct {
	WebSearch     string // "" if the backend has no web-search-capable model
	HighReasoning string
	FastCoding    string
	General       string
	LongContext   string // "" if the backend has no distinct long-context model
}

// Selection is the Selector's verdict for one request.
type Selection struct {
	ModelID         string
	ReasoningEffort string // "", low, medium, high
	WebSearchNeeded bool
}

// highReasoningIntentMarkers mark the client's own model string as
// requesting high reasoning, independent of the request text.
var highReasoningIntentMarkers = []string{"opus", "reasoning", "think"}

// reasoningKeywords per spec §4.3 rule 3.
var reasoningKeywords = []string{
	"analyse", "analyze", "prove", "derive", "explain why", "design",
	"architecture", "trade-off", "complexity", "proof", "theorem",
}

// codingKeywords per spec §4.3 rule 4.
var codingKeywords = []string{
	"code", "function", "compile", "refactor", "bug", "stack trace", "test", "lint", "repo",
}

// webSearchTools are the client tool names that trigger the Adapter's
// web-search interception.
var webSearchTools = map[string]bool{
	"web_search":     true,
	"browser_search": true,
}

// LongContextTokenThreshold is the supplemented rule's token budget
// (SPEC_FULL §C.1): requests whose input exceeds this are routed to the
// long-context model before any keyword analysis runs.
const LongContextTokenThreshold = 60000

// Select applies the deterministic, priority-ordered policy in spec §4.3,
// with the supplemented long-context rule (SPEC_FULL §C.1) inserted between
// rule 1 (web search) and rule 2 (opus/high-reasoning-intent substring).
func Select(models Models, modelString string, userText string, toolNames []string, inputTokens int) Selection {
	lowerText := strings.ToLower(userText)
	lowerModel := strings.ToLower(modelString)

	for _, name := range toolNames {
		if webSearchTools[name] && models.WebSearch != "" {
			return Selection{ModelID: models.WebSearch, WebSearchNeeded: true}
		}
	}

	if models.LongContext != "" && inputTokens > LongContextTokenThreshold {
		return Selection{ModelID: models.LongContext, ReasoningEffort: "medium"}
	}

	for _, marker := range highReasoningIntentMarkers {
		if strings.Contains(lowerModel, marker) {
			return Selection{ModelID: models.HighReasoning, ReasoningEffort: "high"}
		}
	}

	for _, kw := range reasoningKeywords {
		if strings.Contains(lowerText, kw) {
			return Selection{ModelID: models.HighReasoning, ReasoningEffort: "high"}
		}
	}

	for _, kw := range codingKeywords {
		if strings.Contains(lowerText, kw) {
			return Selection{ModelID: models.FastCoding, ReasoningEffort: "medium"}
		}
	}

	return Selection{ModelID: models.General, ReasoningEffort: "medium"}
}
