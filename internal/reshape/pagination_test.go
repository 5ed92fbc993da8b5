package reshape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorEncoding(t *testing.T) {
	cursor := EncodeCursor(40)
	require.Equal(t, "eyJvZmZzZXQiOjQwfQ==", cursor)

	offset, err := DecodeCursor(cursor)
	require.NoError(t, err)
	require.Equal(t, 40, offset)

	_, err = DecodeCursor("!!!")
	require.Error(t, err)

	_, err = DecodeCursor("bm90IGpzb24=") // "not json"
	require.Error(t, err)
}

func TestOffsetToCursor(t *testing.T) {
	first := OffsetToCursor(OffsetPage{Page: 1, Limit: 20, Total: 45})
	require.Nil(t, first.Cursor)
	require.True(t, first.HasMore)
	require.Equal(t, 45, first.Total)

	last := OffsetToCursor(OffsetPage{Page: 3, Limit: 20, Total: 45})
	require.NotNil(t, last.Cursor)
	require.False(t, last.HasMore)

	offset, err := DecodeCursor(*last.Cursor)
	require.NoError(t, err)
	require.Equal(t, 40, offset)
}

func TestCursorToOffset(t *testing.T) {
	p, err := CursorToOffset(CursorPage{Limit: 10, Total: 95})
	require.NoError(t, err)
	require.Equal(t, OffsetPage{Page: 1, Limit: 10, Total: 95, Pages: 10}, p)

	cursor := EncodeCursor(30)
	p, err = CursorToOffset(CursorPage{Cursor: &cursor, Limit: 10, Total: 95})
	require.NoError(t, err)
	require.Equal(t, 4, p.Page)

	p, err = CursorToOffset(CursorPage{Limit: 0, Total: 5})
	require.NoError(t, err)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 0, p.Pages)

	bad := "garbage"
	_, err = CursorToOffset(CursorPage{Cursor: &bad, Limit: 10})
	require.Error(t, err)
}

func TestPaginationRoundTrip(t *testing.T) {
	for page := 1; page <= 12; page++ {
		for _, limit := range []int{1, 7, 25, 100} {
			for _, total := range []int{0, 1, 50, 999} {
				in := OffsetPage{Page: page, Limit: limit, Total: total}
				out, err := CursorToOffset(OffsetToCursor(in))
				require.NoError(t, err)
				require.Equal(t, page, out.Page, "page=%d limit=%d total=%d", page, limit, total)
				require.Equal(t, limit, out.Limit)
				require.Equal(t, total, out.Total)
			}
		}
	}
}
