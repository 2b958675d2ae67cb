package model

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// LocationNormalized is the validated payload of a staged location.
type LocationNormalized struct {
	Name    string `json:"name" validate:"required,max=255"`
	City    string `json:"city,omitempty" validate:"max=120"`
	State   string `json:"state,omitempty" validate:"max=120"`
	Address string `json:"address,omitempty" validate:"max=500"`
}

// Complete reports whether the location carries enough data to be created
// without further review.
func (l LocationNormalized) Complete() bool {
	return l.Name != "" && l.City != "" && l.State != ""
}

// ProjectNormalized is the validated payload of a staged project
// (a waste stream in the source document).
type ProjectNormalized struct {
	Name            string `json:"name" validate:"required,max=255"`
	Category        string `json:"category,omitempty" validate:"max=120"`
	ProjectType     string `json:"project_type,omitempty" validate:"max=120"`
	Description     string `json:"description,omitempty" validate:"max=4000"`
	Sector          string `json:"sector,omitempty" validate:"max=120"`
	Subsector       string `json:"subsector,omitempty" validate:"max=120"`
	EstimatedVolume string `json:"estimated_volume,omitempty" validate:"max=255"`
	// Site fields name the location a stream belongs to when no staged
	// location item carries it.
	SiteName  string `json:"site_name,omitempty" validate:"max=255"`
	SiteCity  string `json:"site_city,omitempty" validate:"max=120"`
	SiteState string `json:"site_state,omitempty" validate:"max=120"`
}

// Complete reports whether the project carries enough data to be created
// without further review.
func (p ProjectNormalized) Complete() bool {
	return p.Name != ""
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the location payload against its field constraints.
func (l LocationNormalized) Validate() error {
	return validationError(payloadValidator().Struct(l))
}

// Validate checks the project payload against its field constraints.
func (p ProjectNormalized) Validate() error {
	return validationError(payloadValidator().Struct(p))
}

// ErrInvalidPayload marks payloads that failed boundary validation.
var ErrInvalidPayload = eris.New("invalid payload")

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrap(err, "model: validate payload")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+":"+fe.Tag())
	}
	return eris.Wrapf(ErrInvalidPayload, "model: %s", strings.Join(fields, ", "))
}

// DecodeNormalized turns a loosely typed payload into the typed variant for
// itemType, validates it and returns its canonical JSON encoding. Unknown
// keys are dropped.
func DecodeNormalized(itemType ItemType, data map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal payload")
	}
	switch itemType {
	case ItemTypeLocation:
		var loc LocationNormalized
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, eris.Wrap(ErrInvalidPayload, "model: location payload has wrong field types")
		}
		return EncodeLocation(loc)
	case ItemTypeProject:
		var p ProjectNormalized
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, eris.Wrap(ErrInvalidPayload, "model: project payload has wrong field types")
		}
		return EncodeProject(p)
	default:
		return nil, eris.Errorf("model: unknown item type %q", itemType)
	}
}

// EncodeLocation validates and encodes a location payload.
func EncodeLocation(l LocationNormalized) (json.RawMessage, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(l)
	return raw, eris.Wrap(err, "model: encode location")
}

// EncodeProject validates and encodes a project payload.
func EncodeProject(p ProjectNormalized) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	return raw, eris.Wrap(err, "model: encode project")
}

// PayloadMap decodes a normalized payload into a generic map for merging.
func PayloadMap(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrap(err, "model: decode payload map")
	}
	return out, nil
}

// PayloadComplete reports whether the normalized payload of an item is
// complete enough to skip review. Undecodable payloads are never complete.
func PayloadComplete(itemType ItemType, raw json.RawMessage) bool {
	switch itemType {
	case ItemTypeLocation:
		var l LocationNormalized
		if json.Unmarshal(raw, &l) != nil {
			return false
		}
		return l.Complete()
	case ItemTypeProject:
		var p ProjectNormalized
		if json.Unmarshal(raw, &p) != nil {
			return false
		}
		return p.Complete()
	default:
		return false
	}
}
