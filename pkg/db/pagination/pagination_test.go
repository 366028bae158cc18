package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimProducesNextToken(t *testing.T) {
	rows := []string{"1", "2", "3"}
	page, info := Trim(rows, 2, func(s string) Cursor { return Cursor{ID: s} })

	assert.Equal(t, []string{"1", "2"}, page)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor.ID)
}

func TestTrimLastPage(t *testing.T) {
	page, info := Trim([]string{"1"}, 2, func(s string) Cursor { return Cursor{ID: s} })
	assert.Len(t, page, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestDecodeEmptyToken(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}
