package importer

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/dedupe"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/extract"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/normalize"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/store"
)

// target is where a run's items land: the company that owns new locations
// and, for location entrypoints, the fixed location of every project.
type target struct {
	companyID string
	location  *model.Location
}

func (s *Service) resolveTarget(ctx context.Context, tx store.Tx, run *model.ImportRun) (target, error) {
	switch run.EntrypointType {
	case model.EntrypointCompany:
		c, err := tx.GetCompany(ctx, run.OrganizationID, run.EntrypointID)
		if err != nil {
			return target{}, eris.Wrap(err, "importer: load entrypoint company")
		}
		if c == nil {
			return target{}, invalid(CodeCompanyNotFound, "company %s", run.EntrypointID)
		}
		return target{companyID: c.ID}, nil
	case model.EntrypointLocation:
		l, err := tx.GetLocation(ctx, run.OrganizationID, run.EntrypointID)
		if err != nil {
			return target{}, eris.Wrap(err, "importer: load entrypoint location")
		}
		if l == nil {
			return target{}, invalid(CodeLocationNotFound, "location %s", run.EntrypointID)
		}
		return target{companyID: l.CompanyID, location: l}, nil
	default:
		return target{}, invalid("invalid_entrypoint_type", "unknown entrypoint type %q", run.EntrypointType)
	}
}

// stagedLocation is a location item plus the live locations it collides
// with, which are also where its projects could already exist.
type stagedLocation struct {
	item    *model.ImportItem
	liveIDs []string
}

// buildItems turns parsed rows into staged items. Under a company
// entrypoint every distinct site becomes a location item and each stream
// becomes a project item parented to its site; under a location entrypoint
// sites are ignored and every stream attaches to the entrypoint.
func (s *Service) buildItems(ctx context.Context, tx store.Tx, run *model.ImportRun, res *extract.Result) ([]model.ImportItem, error) {
	tgt, err := s.resolveTarget(ctx, tx, run)
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Rows) == 0 {
		return nil, nil
	}

	locIx, err := dedupe.LoadLocations(ctx, tx, run.OrganizationID, tgt.companyID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var (
		items    []*model.ImportItem
		sites    = map[string]*stagedLocation{}
		projects []int
	)
	newItem := func(t model.ItemType, conf int, raw map[string]any) *model.ImportItem {
		it := &model.ImportItem{
			ID:             s.newID(),
			OrganizationID: run.OrganizationID,
			RunID:          run.ID,
			ItemType:       t,
			Status:         model.ItemStatusPendingReview,
			Confidence:     conf,
			ExtractedData:  raw,
			Position:       len(items),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		items = append(items, it)
		return it
	}
	site := func(loc model.LocationNormalized, conf int, raw map[string]any) *stagedLocation {
		key := normalize.LocationKey(loc.Name, loc.City, loc.State)
		if st, ok := sites[key]; ok {
			return st
		}
		it := newItem(model.ItemTypeLocation, conf, raw)
		it.DuplicateCandidates = locIx.Match(loc)
		s.setPayload(it, loc)
		st := &stagedLocation{item: it}
		for _, c := range it.DuplicateCandidates {
			st.liveIDs = append(st.liveIDs, c.ID)
		}
		sites[key] = st
		return st
	}

	for _, row := range res.Rows {
		if row.ProjectData == nil {
			if row.LocationData != nil && tgt.location == nil {
				site(*row.LocationData, row.Confidence, row.Raw)
			}
			continue
		}
		raw := normalize.CopyMap(row.Raw)
		proj := *row.ProjectData
		var parent *stagedLocation
		switch {
		case tgt.location != nil:
		case row.LocationData != nil:
			parent = site(*row.LocationData, row.Confidence, nil)
			proj.SiteName, proj.SiteCity, proj.SiteState = row.LocationData.Name, row.LocationData.City, row.LocationData.State
			raw["location"] = map[string]any{
				"name":  row.LocationData.Name,
				"city":  row.LocationData.City,
				"state": row.LocationData.State,
			}
		default:
			// Unknown site: finalize looks the reference up among live locations.
			proj.SiteName = normalize.Value(raw["location_ref"])
			raw["location"] = map[string]any{"name": proj.SiteName}
		}
		it := newItem(model.ItemTypeProject, row.Confidence, raw)
		if parent != nil {
			it.ParentItemID = parent.item.ID
		}
		s.setPayload(it, proj)
		if tgt.location == nil && parent == nil && it.Status != model.ItemStatusInvalid {
			it.NeedsReview = true
		}
		projects = append(projects, len(items)-1)
	}

	// One query for every live project the staged streams could collide with.
	var scope []string
	if tgt.location != nil {
		scope = append(scope, tgt.location.ID)
	}
	for _, st := range sites {
		scope = append(scope, st.liveIDs...)
	}
	projIx, err := dedupe.PrefetchProjects(ctx, tx, run.OrganizationID, scope)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*stagedLocation, len(sites))
	for _, st := range sites {
		byID[st.item.ID] = st
	}
	for _, idx := range projects {
		it := items[idx]
		if it.Status == model.ItemStatusInvalid {
			continue
		}
		var ids []string
		switch {
		case tgt.location != nil:
			ids = []string{tgt.location.ID}
		case it.ParentItemID != "":
			ids = byID[it.ParentItemID].liveIDs
		}
		p, _ := it.Project()
		it.DuplicateCandidates = projIx.Match(p.Name, ids...)
		it.NeedsReview = it.NeedsReview || it.HasDuplicates()
	}

	if len(items) > 0 && res.Diagnostics.Route != "" {
		if items[0].ExtractedData == nil {
			items[0].ExtractedData = map[string]any{}
		}
		items[0].ExtractedData["diagnostics"] = res.Diagnostics
	}

	out := make([]model.ImportItem, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out, nil
}

// setPayload validates and stores the normalized payload. Payloads that fail
// validation make the item invalid instead of failing the run.
func (s *Service) setPayload(it *model.ImportItem, payload any) {
	var (
		raw      json.RawMessage
		err      error
		complete bool
	)
	switch p := payload.(type) {
	case model.LocationNormalized:
		raw, err = model.EncodeLocation(p)
		complete = p.Complete()
	case model.ProjectNormalized:
		raw, err = model.EncodeProject(p)
		complete = p.Complete()
	}
	if err != nil {
		raw, _ = json.Marshal(payload)
		it.NormalizedData = raw
		it.Status = model.ItemStatusInvalid
		it.NeedsReview = false
		it.ReviewNotes = normalize.Truncate(err.Error(), 500)
		return
	}
	it.NormalizedData = raw
	it.NeedsReview = !complete || it.Confidence < s.cfg.ReviewConfidence || it.HasDuplicates()
}
