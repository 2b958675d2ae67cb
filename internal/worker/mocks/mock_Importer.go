// Package mocks provides test doubles for the worker's importer dependency.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	importer "github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
	model "github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

// MockImporter is a mock type for the worker.Importer interface.
type MockImporter struct {
	mock.Mock
}

// ClaimNextRun provides a mock function with given fields: ctx
func (_m *MockImporter) ClaimNextRun(ctx context.Context) (*model.ImportRun, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for ClaimNextRun")
	}

	var r0 *model.ImportRun
	if rf, ok := ret.Get(0).(func(context.Context) *model.ImportRun); ok {
		r0 = rf(ctx)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.ImportRun)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// ProcessRun provides a mock function with given fields: ctx, run
func (_m *MockImporter) ProcessRun(ctx context.Context, run *model.ImportRun) error {
	ret := _m.Called(ctx, run)

	if len(ret) == 0 {
		panic("no return value specified for ProcessRun")
	}

	if rf, ok := ret.Get(0).(func(context.Context, *model.ImportRun) error); ok {
		return rf(ctx, run)
	}
	return ret.Error(0)
}

// RequeueStaleRuns provides a mock function with given fields: ctx, limit
func (_m *MockImporter) RequeueStaleRuns(ctx context.Context, limit int) (int, error) {
	ret := _m.Called(ctx, limit)

	if len(ret) == 0 {
		panic("no return value specified for RequeueStaleRuns")
	}

	return ret.Int(0), ret.Error(1)
}

// FailExhaustedRuns provides a mock function with given fields: ctx, limit
func (_m *MockImporter) FailExhaustedRuns(ctx context.Context, limit int) (int, error) {
	ret := _m.Called(ctx, limit)

	if len(ret) == 0 {
		panic("no return value specified for FailExhaustedRuns")
	}

	return ret.Int(0), ret.Error(1)
}

// PurgeExpiredArtifacts provides a mock function with given fields: ctx, limit
func (_m *MockImporter) PurgeExpiredArtifacts(ctx context.Context, limit int) (importer.PurgeResult, error) {
	ret := _m.Called(ctx, limit)

	if len(ret) == 0 {
		panic("no return value specified for PurgeExpiredArtifacts")
	}

	var r0 importer.PurgeResult
	if rf, ok := ret.Get(0).(func(context.Context, int) importer.PurgeResult); ok {
		r0 = rf(ctx, limit)
	} else {
		r0 = ret.Get(0).(importer.PurgeResult)
	}

	return r0, ret.Error(1)
}

// NewMockImporter creates a new instance of MockImporter. It also registers
// a cleanup function to assert the mocks expectations.
func NewMockImporter(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockImporter {
	m := &MockImporter{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
