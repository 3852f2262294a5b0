// internal/mocks/mocks_test.go
package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autowait/internal/config"
	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/mocks"
)

// Compile-time checks that the mocks satisfy the interfaces they stand in for.
var (
	_ config.Interface   = (*mocks.MockConfig)(nil)
	_ driver.Querier     = (*mocks.MockQuerier)(nil)
	_ driver.Actor       = (*mocks.MockActor)(nil)
	_ driver.Provisioner = (*mocks.MockProvisioner)(nil)
	_ driver.Driver      = (*mocks.MockDriver)(nil)
)

func TestMockQuerierNilResult(t *testing.T) {
	q := new(mocks.MockQuerier)
	q.On("Query", mock.Anything, driver.PageRef("p1"), mock.Anything).Return(nil, driver.ErrDriverUnavailable)

	elems, err := q.Query(context.Background(), "p1", driver.Query{})
	assert.Nil(t, elems)
	assert.True(t, errors.Is(err, driver.ErrDriverUnavailable))
	q.AssertExpectations(t)
}

func TestMockDriverChannels(t *testing.T) {
	d := mocks.NewMockDriver()
	d.MockProvisioner.On("NewContext", mock.Anything).Return(driver.ContextRef("c1"), nil)
	d.MockActor.On("Act", mock.Anything, driver.PageRef("p1"), driver.Handle("h1"), driver.Action{Kind: driver.ActionClick}).Return(nil)
	d.MockQuerier.On("Query", mock.Anything, mock.Anything, mock.Anything).Return([]driver.ElementInfo{{Handle: "h1"}}, nil)

	raw, err := d.NewContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, driver.ContextRef("c1"), raw)

	elems, err := d.Query(context.Background(), "p1", driver.Query{})
	require.NoError(t, err)
	require.Len(t, elems, 1)

	require.NoError(t, d.Act(context.Background(), "p1", elems[0].Handle, driver.Action{Kind: driver.ActionClick}))
	d.AssertExpectations(t)
}
