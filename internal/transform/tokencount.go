package transform

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// CountInputTokens approximates the token cost of a client request body
// using the cl100k_base encoding, exactly as the teacher's
// ProxyHandler.countInputTokens does for its own router. Used by the Model
// Selector's long-context rule (SPEC_FULL §C.1); the count is approximate
// since the true backend tokenizer is never exposed to the proxy.
func CountInputTokens(text string, logger *slog.Logger) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Error("failed to load tiktoken encoding", "error", err)
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}
