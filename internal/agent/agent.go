// Package agent calls LLM providers to turn bulk-import documents into
// location and waste-stream candidates.
package agent

import (
	"context"
	"fmt"
	"strings"
)

// DocumentAgent extracts from raw document bytes.
type DocumentAgent interface {
	ExtractDocument(ctx context.Context, data []byte, filename, mediaType string) (*Output, error)
}

// TextAgent extracts from already-extracted document text.
type TextAgent interface {
	ExtractText(ctx context.Context, text, filename string) (*Output, error)
}

// Agent serves both extraction routes.
type Agent interface {
	DocumentAgent
	TextAgent
}

// Composite pairs a document agent with a possibly different text agent.
type Composite struct {
	DocumentAgent
	TextAgent
}

// ProviderError is a failure reported by the upstream model provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MentionsSchema reports whether the provider failure is really a schema or
// validation complaint.
func (e *ProviderError) MentionsSchema() bool {
	msg := strings.ToLower(e.Error())
	return strings.Contains(msg, "schema") || strings.Contains(msg, "validation")
}

// SchemaError means the model answered but the answer did not fit Output.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return "schema invalid: " + e.Err.Error() }

func (e *SchemaError) Unwrap() error { return e.Err }

const systemPrompt = `You extract waste-stream inventories from industrial documents.
Return ONLY a JSON object with exactly these keys:
{
  "locations": [{"ref": string, "name": string, "city": string, "state": string, "address": string, "confidence": number, "evidence": [string]}],
  "waste_streams": [{"name": string, "category": string, "project_type": string, "description": string, "sector": string, "subsector": string, "estimated_volume": string, "location_ref": string, "confidence": number, "evidence": [string], "metadata": object}]
}
Rules:
- One entry per physical site in "locations"; "ref" is a short id you invent.
- One entry per waste stream row; "location_ref" points at the site's "ref" when known.
- Keep the document's language for names. Do not invent values; omit unknown fields.
- "confidence" is 0-100.
- "evidence" quotes at most three short source snippets.`

func userPrompt(filename string) string {
	return fmt.Sprintf("Source file: %s\nExtract every location and waste stream.", filename)
}
