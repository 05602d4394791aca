package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/executor/persist"
)

func setup(t *testing.T, keys ...string) *catalog.Directory {
	t.Helper()

	root := t.TempDir()
	for _, k := range keys {
		dir := filepath.Join(root, filepath.FromSlash(k))
		require.NoError(t, os.MkdirAll(dir, 0o770))
		require.NoError(t, os.WriteFile(filepath.Join(dir, persist.HeadFile), []byte("x"), 0o600))
	}
	return catalog.NewDirectory(root)
}

func TestParseTableKey(t *testing.T) {
	t.Parallel()

	k, err := catalog.ParseTableKey("crypto/1Min/binance/BTC.USDT")
	require.NoError(t, err)
	assert.Equal(t, catalog.TableKey{Namespace: "crypto", Period: "1Min", Source: "binance", Name: "BTC.USDT"}, k)
	assert.Equal(t, "crypto/1Min/binance/BTC.USDT", k.String())
	assert.Equal(t, "crypto.1Min.binance.BTC%2EUSDT", k.SegmentName())
	assert.Equal(t, filepath.Join("/data", "crypto", "1Min", "binance", "BTC.USDT"), k.Dir("/data"))

	for _, bad := range []string{"", "a/b/c", "a/b/c/d/e", "a//c/d", "a/../c/d"} {
		_, err = catalog.ParseTableKey(bad)
		var ike catalog.InvalidKeyError
		assert.True(t, errors.As(err, &ike), "%q: err=%v", bad, err)
	}
}

func TestSegmentNamesDoNotCollide(t *testing.T) {
	t.Parallel()

	a, err := catalog.NewTableKey("a.b", "c", "d", "e")
	require.NoError(t, err)
	b, err := catalog.NewTableKey("a", "b.c", "d", "e")
	require.NoError(t, err)
	assert.NotEqual(t, a.SegmentName(), b.SegmentName())
}

func TestListTables(t *testing.T) {
	t.Parallel()
	d := setup(t,
		"equity/1D/iex/AAPL",
		"equity/1D/iex/MSFT",
		"equity/1Min/iex/AAPL",
		"crypto/1D/gdax/BTC",
	)
	// a directory without a head is not a table
	require.NoError(t, os.MkdirAll(filepath.Join(d.Root(), "equity", "1D", "iex", "TSLA"), 0o770))

	all, err := d.ListTables("")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "crypto/1D/gdax/BTC", all[0].String())

	tests := map[string]struct {
		pattern string
		want    []string
	}{
		"by period":        {"*/1D/*/*", []string{"crypto/1D/gdax/BTC", "equity/1D/iex/AAPL", "equity/1D/iex/MSFT"}},
		"by name":          {"equity/*/iex/AAPL", []string{"equity/1D/iex/AAPL", "equity/1Min/iex/AAPL"}},
		"alternatives":     {"equity/1D/iex/{AAPL,TSLA}", []string{"equity/1D/iex/AAPL"}},
		"star is one part": {"equity/*", nil},
	}
	for name, tt := range tests {
		got, err := d.ListTables(tt.pattern)
		require.NoError(t, err, name)
		names := make([]string, 0, len(got))
		for _, k := range got {
			names = append(names, k.String())
		}
		assert.ElementsMatch(t, tt.want, names, name)
	}

	_, err = d.ListTables("[")
	assert.Error(t, err)
}

func TestRemoveTable(t *testing.T) {
	t.Parallel()
	d := setup(t, "equity/1D/iex/AAPL")
	k, err := catalog.ParseTableKey("equity/1D/iex/AAPL")
	require.NoError(t, err)
	assert.True(t, d.Exists(k))

	require.NoError(t, d.RemoveTable(k))
	assert.False(t, d.Exists(k))

	var nf catalog.NotFoundError
	assert.True(t, errors.As(d.RemoveTable(k), &nf))
}
