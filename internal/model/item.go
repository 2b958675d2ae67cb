package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ItemType distinguishes staged locations from staged projects.
type ItemType string

const (
	ItemTypeLocation ItemType = "location"
	ItemTypeProject  ItemType = "project"
)

// ItemStatus is the review state of one staged item.
type ItemStatus string

const (
	ItemStatusPendingReview ItemStatus = "pending_review"
	ItemStatusAccepted      ItemStatus = "accepted"
	ItemStatusAmended       ItemStatus = "amended"
	ItemStatusRejected      ItemStatus = "rejected"
	ItemStatusInvalid       ItemStatus = "invalid"
)

// IsApproved reports whether the item will be materialized at finalize.
func (s ItemStatus) IsApproved() bool {
	return s == ItemStatusAccepted || s == ItemStatusAmended
}

// Duplicate reason codes.
const (
	ReasonNameMatch  = "name_match"
	ReasonCityMatch  = "city_match"
	ReasonStateMatch = "state_match"
)

// DuplicateCandidate is a live entity that may collide with a staged item.
type DuplicateCandidate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ReasonCodes []string `json:"reason_codes"`
}

// ImportItem is one staged candidate entity within a run.
type ImportItem struct {
	ID                  string               `json:"id"`
	OrganizationID      string               `json:"organization_id"`
	RunID               string               `json:"run_id"`
	ItemType            ItemType             `json:"item_type"`
	Status              ItemStatus           `json:"status"`
	NeedsReview         bool                 `json:"needs_review"`
	Confidence          int                  `json:"confidence"`
	ExtractedData       map[string]any       `json:"extracted_data,omitempty"`
	NormalizedData      json.RawMessage      `json:"normalized_data,omitempty"`
	UserAmendments      map[string]any       `json:"user_amendments,omitempty"`
	DuplicateCandidates []DuplicateCandidate `json:"duplicate_candidates,omitempty"`
	ConfirmCreateNew    bool                 `json:"confirm_create_new"`
	ParentItemID        string               `json:"parent_item_id,omitempty"`
	ReviewNotes         string               `json:"review_notes,omitempty"`
	CreatedLocationID   string               `json:"created_location_id,omitempty"`
	CreatedProjectID    string               `json:"created_project_id,omitempty"`
	Position            int                  `json:"position"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// HasDuplicates reports whether the matcher flagged any live collision.
func (it *ImportItem) HasDuplicates() bool {
	return len(it.DuplicateCandidates) > 0
}

// DuplicateConfirmed reports whether the item may be approved despite its
// duplicate candidates.
func (it *ImportItem) DuplicateConfirmed() bool {
	return !it.HasDuplicates() || it.ConfirmCreateNew
}

// Location decodes the normalized payload of a location item.
func (it *ImportItem) Location() (LocationNormalized, error) {
	var loc LocationNormalized
	if it.ItemType != ItemTypeLocation {
		return loc, eris.Errorf("model: item %s is a %s, not a location", it.ID, it.ItemType)
	}
	if err := json.Unmarshal(it.NormalizedData, &loc); err != nil {
		return loc, eris.Wrapf(err, "model: decode location payload for item %s", it.ID)
	}
	return loc, nil
}

// Project decodes the normalized payload of a project item.
func (it *ImportItem) Project() (ProjectNormalized, error) {
	var p ProjectNormalized
	if it.ItemType != ItemTypeProject {
		return p, eris.Errorf("model: item %s is a %s, not a project", it.ID, it.ItemType)
	}
	if err := json.Unmarshal(it.NormalizedData, &p); err != nil {
		return p, eris.Wrapf(err, "model: decode project payload for item %s", it.ID)
	}
	return p, nil
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	Status      ItemStatus `json:"status,omitempty"`
	ItemType    ItemType   `json:"item_type,omitempty"`
	NeedsReview *bool      `json:"needs_review,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}

// ParsedRow is the transient output unit of the extraction adapter.
type ParsedRow struct {
	LocationData *LocationNormalized `json:"location_data,omitempty"`
	ProjectData  *ProjectNormalized  `json:"project_data,omitempty"`
	Confidence   int                 `json:"confidence"`
	Raw          map[string]any      `json:"raw,omitempty"`
}
