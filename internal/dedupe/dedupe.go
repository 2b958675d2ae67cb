// Package dedupe matches staged location and project candidates against the
// live records of a tenant.
package dedupe

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/normalize"
)

// Source is the read access the matcher needs. Each call is one query.
type Source interface {
	ListLocations(ctx context.Context, orgID, companyID string) ([]model.Location, error)
	ListProjectsForLocations(ctx context.Context, orgID string, locationIDs []string) ([]model.Project, error)
}

// LocationIndex holds the live locations of one company keyed by name token.
type LocationIndex struct {
	byName map[string][]model.Location
}

// NewLocationIndex indexes locs by normalized name.
func NewLocationIndex(locs []model.Location) *LocationIndex {
	ix := &LocationIndex{byName: make(map[string][]model.Location, len(locs))}
	for _, l := range locs {
		k := normalize.Token(l.Name)
		ix.byName[k] = append(ix.byName[k], l)
	}
	return ix
}

// LoadLocations builds a LocationIndex for companyID with a single query.
func LoadLocations(ctx context.Context, src Source, orgID, companyID string) (*LocationIndex, error) {
	locs, err := src.ListLocations(ctx, orgID, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: list locations")
	}
	return NewLocationIndex(locs), nil
}

// Match returns the live locations that collide with cand. A name match is
// required. When cand carries both city and state they must match too;
// otherwise the name match alone is enough and any present field that agrees
// adds its reason code.
func (ix *LocationIndex) Match(cand model.LocationNormalized) []model.DuplicateCandidate {
	name := normalize.Token(cand.Name)
	if name == "" {
		return nil
	}
	city := normalize.Token(cand.City)
	state := normalize.Token(cand.State)

	var out []model.DuplicateCandidate
	for _, l := range ix.byName[name] {
		lcity := normalize.Token(l.City)
		lstate := normalize.Token(l.State)
		reasons := []string{model.ReasonNameMatch}
		if city != "" && state != "" {
			if city != lcity || state != lstate {
				continue
			}
			reasons = append(reasons, model.ReasonCityMatch, model.ReasonStateMatch)
		} else {
			if city != "" && city == lcity {
				reasons = append(reasons, model.ReasonCityMatch)
			}
			if state != "" && state == lstate {
				reasons = append(reasons, model.ReasonStateMatch)
			}
		}
		out = append(out, model.DuplicateCandidate{ID: l.ID, Name: l.Name, ReasonCodes: reasons})
	}
	sortCandidates(out)
	return out
}

// Lookup finds the live location whose name, city and state all normalize to
// the given values. It returns nil when there is no such location.
func (ix *LocationIndex) Lookup(name, city, state string) *model.Location {
	city = normalize.Token(city)
	state = normalize.Token(state)
	for _, l := range ix.byName[normalize.Token(name)] {
		if normalize.Token(l.City) == city && normalize.Token(l.State) == state {
			l := l
			return &l
		}
	}
	return nil
}

type projectKey struct {
	locationID string
	name       string
}

// ProjectIndex maps (location id, normalized project name) to live projects.
type ProjectIndex struct {
	byKey map[projectKey][]model.Project
}

// NewProjectIndex indexes projects by location and name token.
func NewProjectIndex(projects []model.Project) *ProjectIndex {
	ix := &ProjectIndex{byKey: make(map[projectKey][]model.Project, len(projects))}
	for _, p := range projects {
		k := projectKey{locationID: p.LocationID, name: normalize.Token(p.Name)}
		ix.byKey[k] = append(ix.byKey[k], p)
	}
	return ix
}

// PrefetchProjects loads every live project under locationIDs with exactly
// one query and indexes them. No query is issued for an empty id set.
func PrefetchProjects(ctx context.Context, src Source, orgID string, locationIDs []string) (*ProjectIndex, error) {
	ids := uniqueIDs(locationIDs)
	if len(ids) == 0 {
		return NewProjectIndex(nil), nil
	}
	projects, err := src.ListProjectsForLocations(ctx, orgID, ids)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: prefetch projects")
	}
	return NewProjectIndex(projects), nil
}

// Match returns live projects named like name under any of locationIDs.
func (ix *ProjectIndex) Match(name string, locationIDs ...string) []model.DuplicateCandidate {
	tok := normalize.Token(name)
	if tok == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []model.DuplicateCandidate
	for _, id := range locationIDs {
		for _, p := range ix.byKey[projectKey{locationID: id, name: tok}] {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, model.DuplicateCandidate{
				ID:          p.ID,
				Name:        p.Name,
				ReasonCodes: []string{model.ReasonNameMatch},
			})
		}
	}
	sortCandidates(out)
	return out
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortCandidates(c []model.DuplicateCandidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Name != c[j].Name {
			return c[i].Name < c[j].Name
		}
		return c[i].ID < c[j].ID
	})
}
