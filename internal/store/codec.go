package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

const (
	runColumnList = `id, organization_id, created_by_user_id, entrypoint_type, entrypoint_id,
	source_file_path, source_filename, status, progress_step, processing_attempts,
	processing_started_at, processing_available_at, processing_error,
	finalized_by_user_id, finalized_at, summary_data, artifacts_purged_at,
	total_items, accepted_count, rejected_count, amended_count, invalid_count,
	duplicate_count, pending_count, created_at, updated_at`

	itemColumnList = `id, organization_id, run_id, item_type, status, needs_review, confidence,
	extracted_data, normalized_data, user_amendments, duplicate_candidates,
	confirm_create_new, parent_item_id, review_notes, created_location_id,
	created_project_id, position, created_at, updated_at`

	locationColumnList = `id, organization_id, company_id, name, city, state, address, created_by_user_id, created_at`

	projectColumnList = `id, organization_id, location_id, company_id, name, category, project_type,
	description, sector, subsector, estimated_volume, project_data, created_by_user_id, created_at`
)

// MaxErrorLen bounds processing_error.
const MaxErrorLen = 500

// qualify prefixes every column in list with alias.
func qualify(alias, list string) string {
	cols := strings.Split(list, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// columns splits a column list for COPY.
func columns(list string) []string {
	cols := strings.Split(list, ",")
	for i, c := range cols {
		cols[i] = strings.TrimSpace(c)
	}
	return cols
}

// placeholders builds positional parameters for either dialect.
type placeholders struct {
	dollar bool
	args   []any
}

func (p *placeholders) add(v any) string {
	p.args = append(p.args, v)
	if p.dollar {
		return fmt.Sprintf("$%d", len(p.args))
	}
	return "?"
}

func itemFilterSQL(p *placeholders, orgID, runID string, f model.ItemFilter) string {
	var b strings.Builder
	b.WriteString(" WHERE organization_id = " + p.add(orgID) + " AND run_id = " + p.add(runID))
	if f.Status != "" {
		b.WriteString(" AND status = " + p.add(string(f.Status)))
	}
	if f.ItemType != "" {
		b.WriteString(" AND item_type = " + p.add(string(f.ItemType)))
	}
	if f.NeedsReview != nil {
		b.WriteString(" AND needs_review = " + p.add(*f.NeedsReview))
	}
	b.WriteString(" ORDER BY position, id")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + p.add(f.Limit))
		if f.Offset > 0 {
			b.WriteString(" OFFSET " + p.add(f.Offset))
		}
	}
	return b.String()
}

func runFilterSQL(p *placeholders, orgID string, f model.RunFilter) string {
	var b strings.Builder
	b.WriteString(" WHERE organization_id = " + p.add(orgID))
	if f.Status != "" {
		b.WriteString(" AND status = " + p.add(string(f.Status)))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	b.WriteString(" LIMIT " + p.add(limit))
	if f.Offset > 0 {
		b.WriteString(" OFFSET " + p.add(f.Offset))
	}
	return b.String()
}

// jsonOrNil encodes v, mapping empty maps and slices to SQL NULL.
func jsonOrNil(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []model.DuplicateCandidate:
		if len(t) == 0 {
			return nil, nil
		}
	case json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
		return t, nil
	case *model.FinalizeSummary:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode json")
	}
	return b, nil
}

func decodeMap(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrap(err, "store: decode json object")
	}
	return m, nil
}

func decodeCandidates(b []byte) ([]model.DuplicateCandidate, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var c []model.DuplicateCandidate
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, eris.Wrap(err, "store: decode duplicate candidates")
	}
	if len(c) == 0 {
		return nil, nil
	}
	return c, nil
}

func decodeSummary(b []byte) (*model.FinalizeSummary, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s model.FinalizeSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, eris.Wrap(err, "store: decode summary")
	}
	return &s, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// truncateError caps a processing error to the column width.
func truncateError(s string) string {
	r := []rune(s)
	if len(r) <= MaxErrorLen {
		return s
	}
	return string(r[:MaxErrorLen])
}

// itemJSON holds the encoded JSON columns of an item.
type itemJSON struct {
	extracted, normalized, amendments, candidates []byte
}

func encodeItemJSON(it *model.ImportItem) (itemJSON, error) {
	var (
		out itemJSON
		err error
	)
	if out.extracted, err = jsonOrNil(it.ExtractedData); err != nil {
		return out, err
	}
	if len(it.NormalizedData) == 0 {
		return out, eris.Errorf("store: item %s has no normalized data", it.ID)
	}
	out.normalized = it.NormalizedData
	if out.amendments, err = jsonOrNil(it.UserAmendments); err != nil {
		return out, err
	}
	if out.candidates, err = jsonOrNil(it.DuplicateCandidates); err != nil {
		return out, err
	}
	return out, nil
}

func (j itemJSON) decodeInto(it *model.ImportItem) error {
	var err error
	if it.ExtractedData, err = decodeMap(j.extracted); err != nil {
		return err
	}
	if len(j.normalized) > 0 {
		it.NormalizedData = json.RawMessage(j.normalized)
	}
	if it.UserAmendments, err = decodeMap(j.amendments); err != nil {
		return err
	}
	if it.DuplicateCandidates, err = decodeCandidates(j.candidates); err != nil {
		return err
	}
	return nil
}
