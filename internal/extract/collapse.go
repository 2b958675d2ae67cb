package extract

import (
	"strings"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/agent"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/normalize"
)

const maxEvidence = 10

// CollapseStreams merges stream rows that name the same concept at the same
// location ("PET Enero 2026" and "PET Febrero 2026" under one site). Output
// keeps first-appearance order and never grows. Inputs are not modified.
func CollapseStreams(streams []agent.StreamCandidate) []agent.StreamCandidate {
	out := make([]agent.StreamCandidate, 0, len(streams))
	index := make(map[string]int, len(streams))
	for _, s := range streams {
		key := normalize.ConceptKey(s.Name) + "\x00" + normalize.Token(s.LocationRef)
		if i, ok := index[key]; ok {
			out[i] = mergeStreams(out[i], s)
			continue
		}
		index[key] = len(out)
		out = append(out, copyStream(s))
	}
	return out
}

func mergeStreams(cur, next agent.StreamCandidate) agent.StreamCandidate {
	merged := cur
	merged.Evidence = mergeEvidence(cur.Evidence, next.Evidence)

	// Alternates are unioned separately so DeepMerge does not see them as a
	// scalar conflict.
	nextMeta := normalize.DeepMerge(next.Metadata, nil)
	nextAlts := alternates(nextMeta)
	delete(nextMeta, "category_alternates")
	merged.Metadata = normalize.DeepMerge(cur.Metadata, nextMeta)

	winner, loser := cur, next
	if next.Confidence > cur.Confidence {
		winner, loser = next, cur
	}
	merged.Category = firstNonEmpty(winner.Category, loser.Category)
	if winner.Category != "" && loser.Category != "" &&
		normalize.Token(winner.Category) != normalize.Token(loser.Category) {
		nextAlts = append(nextAlts, loser.Category)
	}
	if len(nextAlts) > 0 || merged.Metadata["category_alternates"] != nil {
		merged.Metadata = addAlternates(merged.Metadata, nextAlts, merged.Category)
	}

	if len(next.Description) > len(cur.Description) {
		merged.Description = next.Description
	}
	if next.Confidence > cur.Confidence {
		merged.Confidence = next.Confidence
	}
	if merged.LocationRef == "" {
		merged.LocationRef = next.LocationRef
	}
	merged.ProjectType = firstNonEmpty(cur.ProjectType, next.ProjectType)
	merged.Sector = firstNonEmpty(cur.Sector, next.Sector)
	merged.Subsector = firstNonEmpty(cur.Subsector, next.Subsector)
	merged.EstimatedVolume = firstNonEmpty(cur.EstimatedVolume, next.EstimatedVolume)
	return merged
}

func mergeEvidence(a, b []string) []string {
	out := make([]string, 0, min(len(a)+len(b), maxEvidence))
	seen := map[string]bool{}
	for _, e := range append(append([]string{}, a...), b...) {
		e = normalize.Clean(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
		if len(out) == maxEvidence {
			break
		}
	}
	return out
}

func alternates(meta map[string]any) []string {
	var out []string
	switch v := meta["category_alternates"].(type) {
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}

// addAlternates records losing categories under metadata.category_alternates,
// skipping case-insensitive repeats and the winning category itself.
func addAlternates(meta map[string]any, alts []string, winner string) map[string]any {
	seen := map[string]bool{strings.ToLower(normalize.Clean(winner)): true}
	out := make([]any, 0)
	for _, s := range append(alternates(meta), alts...) {
		k := strings.ToLower(normalize.Clean(s))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	meta["category_alternates"] = out
	return meta
}

func copyStream(s agent.StreamCandidate) agent.StreamCandidate {
	c := s
	c.Evidence = mergeEvidence(s.Evidence, nil)
	c.Metadata = normalize.DeepMerge(s.Metadata, nil)
	return c
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
