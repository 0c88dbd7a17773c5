// Package mocks holds testify mocks of the extractor used by the scheduler
// and API tests.
package mocks

import (
	context "context"

	extract "github.com/hbomb79/Grab/internal/extract"
	mock "github.com/stretchr/testify/mock"
)

// MockExtractor is a mock type for the Extractor type
type MockExtractor struct {
	mock.Mock
}

// Browse provides a mock function with given fields: ctx, url, tab, offset, limit
func (_m *MockExtractor) Browse(ctx context.Context, url string, tab string, offset int, limit int) (*extract.Page, error) {
	ret := _m.Called(ctx, url, tab, offset, limit)

	var r0 *extract.Page
	if rf, ok := ret.Get(0).(func(context.Context, string, string, int, int) *extract.Page); ok {
		r0 = rf(ctx, url, tab, offset, limit)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*extract.Page)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string, int, int) error); ok {
		r1 = rf(ctx, url, tab, offset, limit)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Describe provides a mock function with given fields: ctx, url
func (_m *MockExtractor) Describe(ctx context.Context, url string) (*extract.Info, error) {
	ret := _m.Called(ctx, url)

	var r0 *extract.Info
	if rf, ok := ret.Get(0).(func(context.Context, string) *extract.Info); ok {
		r0 = rf(ctx, url)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*extract.Info)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, url)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Download provides a mock function with given fields: ctx, opts, sink
func (_m *MockExtractor) Download(ctx context.Context, opts extract.DownloadOptions, sink extract.ProgressSink) error {
	ret := _m.Called(ctx, opts, sink)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, extract.DownloadOptions, extract.ProgressSink) error); ok {
		r0 = rf(ctx, opts, sink)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockExtractor creates a new instance of MockExtractor. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockExtractor(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockExtractor {
	mock := &MockExtractor{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
