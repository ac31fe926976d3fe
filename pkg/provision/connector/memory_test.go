package connector

import (
	"context"
	"testing"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConnector_CreateReadUpdateDelete(t *testing.T) {
	c := NewMemoryConnector()
	ctx := context.Background()

	uid, err := c.Create(ctx, "account", model.AttributeMap{"__uid": "jdoe", "mail": "jdoe@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "jdoe", uid)

	obj, err := c.Read(ctx, "jdoe", "account")
	require.NoError(t, err)
	assert.Equal(t, "jdoe@example.com", obj.Attributes["mail"])
	_, carried := obj.Attributes["__uid"]
	assert.False(t, carried, "uid carrier attribute must not be stored")

	_, err = c.Update(ctx, "jdoe", "account", model.AttributeMap{"mail": "john@example.com"})
	require.NoError(t, err)
	obj, err = c.Read(ctx, "jdoe", "account")
	require.NoError(t, err)
	assert.Equal(t, "john@example.com", obj.Attributes["mail"])

	require.NoError(t, c.Delete(ctx, "jdoe", "account"))
	_, err = c.Read(ctx, "jdoe", "account")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryConnector_DuplicateUIDRejected(t *testing.T) {
	c := NewMemoryConnector()
	ctx := context.Background()

	_, err := c.Create(ctx, "account", model.AttributeMap{"__uid": "jdoe"})
	require.NoError(t, err)

	_, err = c.Create(ctx, "account", model.AttributeMap{"__uid": "jdoe"})
	assert.ErrorIs(t, err, exception.ErrDuplicateKey)
}

func TestMemoryConnector_FailureInjection(t *testing.T) {
	c := NewMemoryConnector()
	ctx := context.Background()

	c.FailNext = exception.NewConnectorIOError("memory-connector", "injected outage", nil)
	_, err := c.Create(ctx, "account", model.AttributeMap{"__uid": "jdoe"})
	require.Error(t, err)
	assert.True(t, exception.IsRetryable(err))

	// The injected failure clears after one call.
	_, err = c.Create(ctx, "account", model.AttributeMap{"__uid": "jdoe"})
	assert.NoError(t, err)
}

func TestMemoryConnector_SearchStreamsInUIDOrder(t *testing.T) {
	c := NewMemoryConnector()
	c.Seed("account", "zack", model.AttributeMap{"mail": "z@example.com"})
	c.Seed("account", "anna", model.AttributeMap{"mail": "a@example.com"})
	c.Seed("badge", "jdoe", model.AttributeMap{})

	var uids []string
	err := c.Search(context.Background(), "account", "", func(obj Object) bool {
		uids = append(uids, obj.UID)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"anna", "zack"}, uids)
}

func TestMemoryConnector_SearchStopsWhenHandlerDeclines(t *testing.T) {
	c := NewMemoryConnector()
	c.Seed("account", "a", model.AttributeMap{})
	c.Seed("account", "b", model.AttributeMap{})

	var count int
	err := c.Search(context.Background(), "account", "", func(obj Object) bool {
		count++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewMemoryConnectorFromSettings(t *testing.T) {
	c, err := NewMemoryConnectorFromSettings(map[string]string{"simulated_latency_millis": "1"})
	require.NoError(t, err)
	assert.NotNil(t, c.Latency)

	c, err = NewMemoryConnectorFromSettings(nil)
	require.NoError(t, err)
	assert.Nil(t, c.Latency)
}
