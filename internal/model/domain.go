package model

import (
	"time"
)

// Company is a live tenant company; the root of the location graph.
type Company struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Location is a live site belonging to a company.
type Location struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization_id"`
	CompanyID       string    `json:"company_id"`
	Name            string    `json:"name"`
	City            string    `json:"city,omitempty"`
	State           string    `json:"state,omitempty"`
	Address         string    `json:"address,omitempty"`
	CreatedByUserID string    `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Project is a live assessment project attached to a location.
type Project struct {
	ID              string         `json:"id"`
	OrganizationID  string         `json:"organization_id"`
	LocationID      string         `json:"location_id"`
	CompanyID       string         `json:"company_id"`
	Name            string         `json:"name"`
	Category        string         `json:"category,omitempty"`
	ProjectType     string         `json:"project_type,omitempty"`
	Description     string         `json:"description,omitempty"`
	Sector          string         `json:"sector,omitempty"`
	Subsector       string         `json:"subsector,omitempty"`
	EstimatedVolume string         `json:"estimated_volume,omitempty"`
	ProjectData     map[string]any `json:"project_data,omitempty"`
	CreatedByUserID string         `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
