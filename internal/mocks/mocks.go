// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/autowait/internal/config"
	"github.com/xkilldash9x/autowait/internal/driver"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Poll() config.PollConfig {
	args := m.Called()
	return args.Get(0).(config.PollConfig)
}

func (m *MockConfig) Pool() config.PoolConfig {
	args := m.Called()
	return args.Get(0).(config.PoolConfig)
}

func (m *MockConfig) Telemetry() config.TelemetryConfig {
	args := m.Called()
	return args.Get(0).(config.TelemetryConfig)
}

func (m *MockConfig) SetBrowserHeadless(b bool)             { m.Called(b) }
func (m *MockConfig) SetBrowserTestIDAttribute(attr string) { m.Called(attr) }
func (m *MockConfig) SetPollTimeout(d time.Duration)        { m.Called(d) }
func (m *MockConfig) SetPoolSize(n int)                     { m.Called(n) }

// -- Driver Mocks --

// MockQuerier mocks driver.Querier.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) Query(ctx context.Context, page driver.PageRef, q driver.Query) ([]driver.ElementInfo, error) {
	args := m.Called(ctx, page, q)
	var elems []driver.ElementInfo
	if v := args.Get(0); v != nil {
		elems = v.([]driver.ElementInfo)
	}
	return elems, args.Error(1)
}

// MockActor mocks driver.Actor.
type MockActor struct {
	mock.Mock
}

func (m *MockActor) Act(ctx context.Context, page driver.PageRef, handle driver.Handle, action driver.Action) error {
	args := m.Called(ctx, page, handle, action)
	return args.Error(0)
}

// MockProvisioner mocks driver.Provisioner.
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) NewContext(ctx context.Context) (driver.ContextRef, error) {
	args := m.Called(ctx)
	return args.Get(0).(driver.ContextRef), args.Error(1)
}

func (m *MockProvisioner) ResetContext(ctx context.Context, raw driver.ContextRef) error {
	args := m.Called(ctx, raw)
	return args.Error(0)
}

func (m *MockProvisioner) CloseContext(ctx context.Context, raw driver.ContextRef) error {
	args := m.Called(ctx, raw)
	return args.Error(0)
}

func (m *MockProvisioner) NewPage(ctx context.Context, raw driver.ContextRef) (driver.PageRef, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(driver.PageRef), args.Error(1)
}

func (m *MockProvisioner) ClosePage(ctx context.Context, page driver.PageRef) error {
	args := m.Called(ctx, page)
	return args.Error(0)
}

// MockDriver combines the three channel mocks into a driver.Driver.
type MockDriver struct {
	MockQuerier
	MockActor
	MockProvisioner
}

// NewMockDriver returns an empty MockDriver.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

// AssertExpectations checks every embedded mock.
func (d *MockDriver) AssertExpectations(t mock.TestingT) bool {
	ok := d.MockQuerier.AssertExpectations(t)
	ok = d.MockActor.AssertExpectations(t) && ok
	return d.MockProvisioner.AssertExpectations(t) && ok
}
