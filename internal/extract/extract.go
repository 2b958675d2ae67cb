// Package extract routes an uploaded source file to the right extraction
// agent and turns the agent output into collapsed, normalized rows.
package extract

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/agent"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/normalize"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/parser"
)

// Stable error codes persisted as a run's processing_error.
const (
	CodeEmptyFile           = "empty_file"
	CodeMaxFileSize         = "max_file_size_exceeded"
	CodeUnsupportedFileType = "unsupported_file_type"
	CodeLegacyXLS           = "legacy_xls_not_supported"
	CodeAITimeout           = "ai_timeout"
	CodeAISchemaInvalid     = "ai_schema_invalid"
	CodeAIProviderError     = "ai_provider_error"
)

// Routes recorded in diagnostics.
const (
	RoutePDFBinary = "pdf_binary"
	RouteXLSXText  = "xlsx_text"
	RouteDOCXText  = "docx_text"
)

// DefaultTimeout bounds a single agent call.
const DefaultTimeout = 120 * time.Second

// Error is an extraction failure with a stable code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed. Only agent-side
// failures qualify; bad input stays bad.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeAITimeout, CodeAIProviderError, CodeAISchemaInvalid:
		return true
	default:
		return false
	}
}

// SupportedExtension reports whether ext (with dot) can be extracted.
func SupportedExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".xlsx", ".docx":
		return true
	default:
		return false
	}
}

// Diagnostics describe how a file was extracted.
type Diagnostics struct {
	Route      string `json:"route"`
	MediaType  string `json:"media_type,omitempty"`
	CharCount  int    `json:"char_count,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	Locations  int    `json:"locations"`
	StreamsIn  int    `json:"streams_in"`
	StreamsOut int    `json:"streams_out"`
}

// Result is the adapter output for one file.
type Result struct {
	Rows        []model.ParsedRow
	Diagnostics Diagnostics
}

// Option adjusts a single Extract call.
type Option func(*callOptions)

type callOptions struct {
	onStep func(context.Context, model.ProgressStep) error
}

// OnStep registers fn to be called when extraction enters a new phase after
// the agent returns. An error from fn aborts the call and is returned as is.
func OnStep(fn func(context.Context, model.ProgressStep) error) Option {
	return func(o *callOptions) { o.onStep = fn }
}

// ReportStep runs the OnStep hook among opts, if any.
func ReportStep(ctx context.Context, step model.ProgressStep, opts ...Option) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.onStep == nil {
		return nil
	}
	return o.onStep(ctx, step)
}

// Adapter turns a source file into ParsedRows.
type Adapter struct {
	agent   agent.Agent
	text    parser.Extractor
	timeout time.Duration
}

// NewAdapter creates an Adapter. A non-positive timeout uses DefaultTimeout.
func NewAdapter(a agent.Agent, text parser.Extractor, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{agent: a, text: text, timeout: timeout}
}

// Extract routes data by the extension of filename.
func (a *Adapter) Extract(ctx context.Context, data []byte, filename string, opts ...Option) (*Result, error) {
	if len(data) == 0 {
		return nil, &Error{Code: CodeEmptyFile}
	}

	var (
		out  *agent.Output
		diag Diagnostics
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		mt := mimetype.Detect(data)
		if !mt.Is("application/pdf") {
			return nil, &Error{Code: CodeUnsupportedFileType, Err: eris.Errorf("extract: %s content is %s", filename, mt.String())}
		}
		diag = Diagnostics{Route: RoutePDFBinary, MediaType: "application/pdf"}
		out, err = a.callAgent(ctx, func(ctx context.Context) (*agent.Output, error) {
			return a.agent.ExtractDocument(ctx, data, filename, "application/pdf")
		})
	case ".xlsx", ".docx":
		kind := parser.KindXLSX
		diag.Route = RouteXLSXText
		if ext == ".docx" {
			kind = parser.KindDOCX
			diag.Route = RouteDOCXText
		}
		text, perr := a.text.Extract(ctx, kind, data)
		if perr != nil {
			return nil, perr
		}
		diag.CharCount, diag.Truncated = text.CharCount, text.Truncated
		if strings.TrimSpace(text.Text) == "" {
			zap.L().Info("extract: empty document text, skipping agent", zap.String("filename", filename))
			return &Result{Diagnostics: diag}, nil
		}
		out, err = a.callAgent(ctx, func(ctx context.Context) (*agent.Output, error) {
			return a.agent.ExtractText(ctx, text.Text, filename)
		})
	case ".xls":
		return nil, &Error{Code: CodeLegacyXLS}
	default:
		return nil, &Error{Code: CodeUnsupportedFileType, Err: eris.Errorf("extract: extension %q", ext)}
	}
	if err != nil {
		return nil, err
	}
	if err := ReportStep(ctx, model.StepExtractingStreams, opts...); err != nil {
		return nil, err
	}

	streams := CollapseStreams(out.WasteStreams)
	diag.Locations = len(out.Locations)
	diag.StreamsIn = len(out.WasteStreams)
	diag.StreamsOut = len(streams)
	zap.L().Info("extract: agent output",
		zap.String("filename", filename),
		zap.String("route", diag.Route),
		zap.Int("char_count", diag.CharCount),
		zap.Bool("truncated", diag.Truncated),
		zap.Int("locations", diag.Locations),
		zap.Int("streams_in", diag.StreamsIn),
		zap.Int("streams_out", diag.StreamsOut),
	)
	return &Result{Rows: BuildRows(out.Locations, streams), Diagnostics: diag}, nil
}

// callAgent races fn against the adapter timeout. On expiry it stops waiting
// and reports ai_timeout; the upstream call is cancelled through ctx but may
// still be in flight.
func (a *Adapter) callAgent(ctx context.Context, fn func(context.Context) (*agent.Output, error)) (*agent.Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		out *agent.Output
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := fn(callCtx)
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, classify(ctx, r.err)
		}
		if r.out == nil {
			return nil, &Error{Code: CodeAISchemaInvalid, Err: eris.New("extract: agent returned no output")}
		}
		return r.out, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Code: CodeAITimeout, Err: eris.Errorf("extract: agent exceeded %s", a.timeout)}
	}
}

func classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var se *agent.SchemaError
	if errors.As(err, &se) {
		return &Error{Code: CodeAISchemaInvalid, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeAITimeout, Err: err}
	}
	var pe *agent.ProviderError
	if errors.As(err, &pe) && pe.MentionsSchema() {
		return &Error{Code: CodeAISchemaInvalid, Err: err}
	}
	return &Error{Code: CodeAIProviderError, Err: err}
}

// BuildRows converts agent candidates into ParsedRows: one location-only row
// per site, then one row per (already collapsed) stream carrying the site it
// references when that site is known.
func BuildRows(locations []agent.LocationCandidate, streams []agent.StreamCandidate) []model.ParsedRow {
	rows := make([]model.ParsedRow, 0, len(locations)+len(streams))
	byRef := make(map[string]*model.LocationNormalized, len(locations)*2)

	for _, lc := range locations {
		loc := normalize.Location(map[string]any{
			"name": lc.Name, "city": lc.City, "state": lc.State, "address": lc.Address,
		})
		if loc.Name == "" {
			continue
		}
		l := loc
		if lc.Ref != "" {
			byRef[normalize.Token(lc.Ref)] = &l
		}
		byRef[normalize.Token(lc.Name)] = &l
		rows = append(rows, model.ParsedRow{
			LocationData: &l,
			Confidence:   normalize.ClampConfidence(lc.Confidence),
			Raw: map[string]any{
				"source":   "location",
				"ref":      lc.Ref,
				"evidence": lc.Evidence,
			},
		})
	}

	for _, sc := range streams {
		p := normalize.Project(map[string]any{
			"name":             sc.Name,
			"category":         sc.Category,
			"project_type":     sc.ProjectType,
			"description":      sc.Description,
			"sector":           sc.Sector,
			"subsector":        sc.Subsector,
			"estimated_volume": sc.EstimatedVolume,
		})
		if p.Name == "" {
			continue
		}
		raw := map[string]any{
			"source":       "waste_stream",
			"location_ref": sc.LocationRef,
			"evidence":     sc.Evidence,
		}
		if len(sc.Metadata) > 0 {
			raw["metadata"] = sc.Metadata
		}
		rows = append(rows, model.ParsedRow{
			LocationData: byRef[normalize.Token(sc.LocationRef)],
			ProjectData:  &p,
			Confidence:   normalize.ClampConfidence(sc.Confidence),
			Raw:          raw,
		})
	}
	return rows
}
