package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct{ id string }

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, "42", cursor.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	data := []*row{{id: "a"}, {id: "b"}, {id: "c"}}

	page, info := BuildCursorPageInfo(data, 2, func(r *row) string { return r.id })
	require.Len(t, page, 2)
	require.True(t, info.HasMore)
	require.Equal(t, "b", info.NextPageToken)

	page, info = BuildCursorPageInfo(data, 5, func(r *row) string { return r.id })
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}

func TestPaginationLimit(t *testing.T) {
	require.Equal(t, 50, Pagination{}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	require.Equal(t, 10, Pagination{PageSize: 10}.Limit())
}
