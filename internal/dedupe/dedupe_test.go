package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListLocations(ctx context.Context, orgID, companyID string) ([]model.Location, error) {
	args := m.Called(ctx, orgID, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Location), args.Error(1)
}

func (m *mockSource) ListProjectsForLocations(ctx context.Context, orgID string, locationIDs []string) ([]model.Project, error) {
	args := m.Called(ctx, orgID, locationIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Project), args.Error(1)
}

func liveLocations() []model.Location {
	return []model.Location{
		{ID: "loc-1", Name: "Planta Norte", City: "Monterrey", State: "NL"},
		{ID: "loc-2", Name: "planta  norte", City: "Saltillo", State: "Coahuila"},
		{ID: "loc-3", Name: "Bodega Sur", City: "Querétaro", State: "QRO"},
	}
}

func TestLocationIndex_Match_FullAddressMustAgree(t *testing.T) {
	ix := NewLocationIndex(liveLocations())

	got := ix.Match(model.LocationNormalized{Name: "PLANTA NORTE", City: "monterrey", State: "nl"})
	require.Len(t, got, 1)
	assert.Equal(t, "loc-1", got[0].ID)
	assert.Equal(t, []string{model.ReasonNameMatch, model.ReasonCityMatch, model.ReasonStateMatch}, got[0].ReasonCodes)
}

func TestLocationIndex_Match_DifferentCityStateNotFlagged(t *testing.T) {
	ix := NewLocationIndex(liveLocations())

	got := ix.Match(model.LocationNormalized{Name: "Planta Norte", City: "Puebla", State: "PUE"})
	assert.Empty(t, got)
}

func TestLocationIndex_Match_NameOnly(t *testing.T) {
	ix := NewLocationIndex(liveLocations())

	got := ix.Match(model.LocationNormalized{Name: "Planta Norte"})
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, []string{model.ReasonNameMatch}, c.ReasonCodes)
	}
}

func TestLocationIndex_Match_PartialAddressAddsAgreeingReason(t *testing.T) {
	ix := NewLocationIndex(liveLocations())

	got := ix.Match(model.LocationNormalized{Name: "Bodega Sur", City: "Queretaro"})
	require.Len(t, got, 1)
	assert.Equal(t, []string{model.ReasonNameMatch, model.ReasonCityMatch}, got[0].ReasonCodes)
}

func TestLocationIndex_Lookup(t *testing.T) {
	ix := NewLocationIndex(liveLocations())

	got := ix.Lookup("planta norte", "SALTILLO", "coahuila")
	require.NotNil(t, got)
	assert.Equal(t, "loc-2", got.ID)
	assert.Nil(t, ix.Lookup("planta norte", "Saltillo", ""))
}

func TestPrefetchProjects_SingleQuery(t *testing.T) {
	src := &mockSource{}
	src.On("ListProjectsForLocations", mock.Anything, "org-1", []string{"loc-1", "loc-2"}).
		Return([]model.Project{
			{ID: "p-1", LocationID: "loc-1", Name: "Corriente PET"},
			{ID: "p-2", LocationID: "loc-2", Name: "corriente pet"},
			{ID: "p-3", LocationID: "loc-2", Name: "Cartón"},
		}, nil).Once()

	ix, err := PrefetchProjects(context.Background(), src, "org-1", []string{"loc-2", "loc-1", "loc-2", ""})
	require.NoError(t, err)

	got := ix.Match("CORRIENTE PET", "loc-1")
	require.Len(t, got, 1)
	assert.Equal(t, "p-1", got[0].ID)

	got = ix.Match("Corriente PET", "loc-1", "loc-2")
	assert.Len(t, got, 2)

	assert.Empty(t, ix.Match("Corriente PET", "loc-9"))
	src.AssertExpectations(t)
}

func TestPrefetchProjects_NoLocationsNoQuery(t *testing.T) {
	src := &mockSource{}
	ix, err := PrefetchProjects(context.Background(), src, "org-1", nil)
	require.NoError(t, err)
	assert.Empty(t, ix.Match("anything", "loc-1"))
	src.AssertNotCalled(t, "ListProjectsForLocations", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoadLocations_Error(t *testing.T) {
	src := &mockSource{}
	src.On("ListLocations", mock.Anything, "org-1", "co-1").Return(nil, errors.New("boom"))

	_, err := LoadLocations(context.Background(), src, "org-1", "co-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedupe: list locations")
}
