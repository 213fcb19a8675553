package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stridelabs/planlog/core/es"
)

func renderEnvelopes(envs []es.Envelope) []string {
	lines := make([]string, len(envs))
	for i, env := range envs {
		lines[i] = renderEnvelope(env)
	}
	return lines
}

func renderEnvelope(env es.Envelope) string {
	return fmt.Sprintf("#%d %s %s v%d %s %s",
		env.Seq,
		env.OccurredAt.UTC().Format(time.RFC3339),
		env.AggregateID,
		env.Version,
		env.Type,
		compactJSON(env.Data),
	)
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
