// Package catalog names tables and lays out their persisted partitions
// under a root directory:
//
//	<root>/<namespace>/<period>/<source>/<name>/head.bin
//	<root>/<namespace>/<period>/<source>/<name>/tail.bin
package catalog

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/executor/persist"
	"github.com/alpacahq/shmstore/utils/log"
)

// Directory is the set of tables persisted under a root directory.
type Directory struct {
	root string
}

func NewDirectory(root string) *Directory {
	return &Directory{root: filepath.Clean(root)}
}

func (d *Directory) Root() string { return d.root }

// PathTo returns the table directory of key.
func (d *Directory) PathTo(key TableKey) string { return key.Dir(d.root) }

// Exists reports whether a head partition was persisted for key.
func (d *Directory) Exists(key TableKey) bool {
	_, err := os.Stat(filepath.Join(d.PathTo(key), persist.HeadFile))
	return err == nil
}

// ListTables returns the persisted tables whose key matches pattern, a
// glob over "namespace/period/source/name" in which * stops at '/'. An
// empty pattern matches every table.
func (d *Directory) ListTables(pattern string) ([]TableKey, error) {
	var g glob.Glob
	if pattern != "" {
		var err error
		if g, err = glob.Compile(pattern, '/'); err != nil {
			return nil, errors.Wrapf(err, "invalid table pattern %q", pattern)
		}
	}
	heads, err := filepath.Glob(filepath.Join(d.root, "*", "*", "*", "*", persist.HeadFile))
	if err != nil {
		return nil, err
	}
	keys := make([]TableKey, 0, len(heads))
	for _, h := range heads {
		rel, err := filepath.Rel(d.root, filepath.Dir(h))
		if err != nil {
			return nil, err
		}
		key, err := ParseTableKey(filepath.ToSlash(rel))
		if err != nil {
			log.Warn("skipping %s: %v", h, err)
			continue
		}
		if g != nil && !g.Match(key.String()) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// RemoveTable deletes the local partitions of key.
func (d *Directory) RemoveTable(key TableKey) error {
	if !d.Exists(key) {
		return NotFoundError(key.String())
	}
	return os.RemoveAll(d.PathTo(key))
}
