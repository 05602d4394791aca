package create

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/utils/io"
)

func TestParseColumns(t *testing.T) {
	t.Parallel()
	dsv, keys, err := ParseColumns("ts:timestamp:k, sym:uint32:k,close:float64")
	require.NoError(t, err)
	assert.Equal(t, []string{"ts", "sym"}, keys)
	assert.Equal(t, []io.DataShape{
		{Name: "ts", Type: io.TIMESTAMP, Key: true},
		{Name: "sym", Type: io.UINT32, Key: true},
		{Name: "close", Type: io.FLOAT64},
	}, dsv)

	_, _, err = ParseColumns("ts:timestamp:k,close:decimal")
	assert.True(t, errors.Is(err, io.ErrSchema))
}
