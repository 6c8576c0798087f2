package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctionRegistry_RegisterAndInvoke(t *testing.T) {
	functions := NewFunctionRegistry(nil)
	functions.Register("double", func(ctx context.Context, input any) (any, error) {
		n, _ := input.(float64)

		return n * 2, nil
	})

	result, err := functions.Invoke(context.Background(), "double", float64(21))
	require.NoError(t, err)
	assert.Equal(t, float64(42), result)
}

func TestFunctionRegistry_InvokeUnknown(t *testing.T) {
	functions := NewFunctionRegistry(nil)

	_, err := functions.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestFunctionRegistry_InvokeErrorPassthrough(t *testing.T) {
	functions := NewFunctionRegistry(nil)
	boom := errors.New("boom")
	functions.Register("fail", func(ctx context.Context, input any) (any, error) {
		return nil, boom
	})

	_, err := functions.Invoke(context.Background(), "fail", nil)
	assert.ErrorIs(t, err, boom)
}

func TestFunctionRegistry_RegisterReplaces(t *testing.T) {
	functions := NewFunctionRegistry(nil)
	functions.Register("greet", func(ctx context.Context, input any) (any, error) {
		return "hello", nil
	})
	functions.Register("greet", func(ctx context.Context, input any) (any, error) {
		return "hi", nil
	})

	result, err := functions.Invoke(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestFunctionRegistry_List(t *testing.T) {
	functions := NewFunctionRegistry(nil)
	functions.Register("b", func(ctx context.Context, input any) (any, error) { return nil, nil })
	functions.Register("a", func(ctx context.Context, input any) (any, error) { return nil, nil })

	assert.Equal(t, []string{"a", "b"}, functions.List())
}
