package linenode_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fab2s/yaetl/nodes/linenode"
)

func TestExtractorYieldsOneRecordPerLine(t *testing.T) {
	e := linenode.NewExtractor(strings.NewReader("a\nb\nc\n"), 2)

	ok, err := e.Extract(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, ok)

	var first []string
	for rec := range e.GetTraversable(context.Background(), nil) {
		first = append(first, rec.(string))
	}
	require.Equal(t, []string{"a", "b"}, first)

	ok, err = e.Extract(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, ok)

	var second []string
	for rec := range e.GetTraversable(context.Background(), nil) {
		second = append(second, rec.(string))
	}
	require.Equal(t, []string{"c"}, second)

	ok, err = e.Extract(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, ok)
}
