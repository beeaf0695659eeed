package arraynode_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fab2s/yaetl/nodes/arraynode"
)

func TestSet(t *testing.T) {
	rec, _, err := arraynode.SetValue("status", "ok")(context.Background(), map[string]any{"id": 1})
	require.NoError(t, err)
	require.Equal(t, "ok", rec["status"])
}

func TestRename(t *testing.T) {
	rec, _, err := arraynode.Rename("old", "new")(context.Background(), map[string]any{"old": 5})
	require.NoError(t, err)
	require.Equal(t, 5, rec["new"])
	_, ok := rec["old"]
	require.False(t, ok)
}

func TestDrop(t *testing.T) {
	rec, _, err := arraynode.Drop("a", "b")(context.Background(), map[string]any{"a": 1, "b": 2, "c": 3})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"c": 3}, rec)
}

func TestDefaultOnlyFillsMissing(t *testing.T) {
	rec, _, err := arraynode.Default("x", 42)(context.Background(), map[string]any{"x": 1})
	require.NoError(t, err)
	require.Equal(t, 1, rec["x"])

	rec, _, err = arraynode.Default("x", 42)(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, 42, rec["x"])
}

func TestCastDropsOnFailure(t *testing.T) {
	toInt := arraynode.Cast("n", func(v any) (any, error) {
		return strconv.Atoi(v.(string))
	})

	rec, dir, err := toInt(context.Background(), map[string]any{"n": "7"})
	require.NoError(t, err)
	require.Nil(t, dir)
	require.Equal(t, 7, rec["n"])

	_, dir, err = toInt(context.Background(), map[string]any{"n": "not-a-number"})
	require.NoError(t, err)
	require.True(t, dir.IsContinue())
}

func TestQualifiers(t *testing.T) {
	hasName := arraynode.HasField("name")
	require.True(t, hasName(map[string]any{"name": "ada"}))
	require.False(t, hasName(map[string]any{}))

	isAdmin := arraynode.Equals("role", "admin")
	require.True(t, isAdmin(map[string]any{"role": "admin"}))

	combined := arraynode.And(hasName, isAdmin)
	require.True(t, combined(map[string]any{"name": "ada", "role": "admin"}))
	require.False(t, combined(map[string]any{"name": "ada", "role": "user"}))

	either := arraynode.Or(hasName, isAdmin)
	require.True(t, either(map[string]any{"role": "admin"}))

	negated := arraynode.Not(hasName)
	require.True(t, negated(map[string]any{}))
}
