package llm

import (
	"fmt"

	"oracleflow/models"
)

// buildPrompt renders the fixed championship template for one round context.
// The layout is part of the endpoint contract and must stay byte-stable for
// a given context.
func buildPrompt(rc models.RoundContext) string {
	return fmt.Sprintf(
		"You are competing in a public Novelty Championship.\n"+
			"Respond with exactly ONE item starting with:\n"+
			"TRADE: <pair, direction, entry, exit, expected X%% profit, 3-line python stub>\n"+
			"or\n"+
			"PAPER: <Title> — 300 words abstract with a concrete mechanism and evaluation path.\n\n"+
			"Context JSON: {\n    \"symbol\": %q,\n"+
			"    \"price\": %v,\n"+
			"    \"sol_tips_proxy\": %v,\n"+
			"    \"sol_whales_proxy\": %v,\n"+
			"    \"trending_source\": %q,\n"+
			"    \"timestamp\": %v\n}\n\n"+
			"Rules: no filler, no preamble, one output only.",
		rc.Symbol, rc.Price, rc.TipsProxy, rc.WhalesProxy, rc.TrendingSource, rc.Timestamp,
	)
}
