package catalog

import (
	"path"
	"path/filepath"
	"strings"
)

// TableKey identifies a table as namespace/period/source/name.
type TableKey struct {
	Namespace string
	Period    string
	Source    string
	Name      string
}

// NewTableKey validates the four parts of a key.
func NewTableKey(namespace, period, source, name string) (TableKey, error) {
	k := TableKey{Namespace: namespace, Period: period, Source: source, Name: name}
	for _, p := range k.parts() {
		if err := validPart(p); err != nil {
			return TableKey{}, err
		}
	}
	return k, nil
}

// ParseTableKey parses the "namespace/period/source/name" form.
func ParseTableKey(s string) (TableKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return TableKey{}, InvalidKeyError(s)
	}
	return NewTableKey(parts[0], parts[1], parts[2], parts[3])
}

func validPart(p string) error {
	if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
		return InvalidKeyError(p)
	}
	return nil
}

func (k TableKey) parts() []string {
	return []string{k.Namespace, k.Period, k.Source, k.Name}
}

func (k TableKey) String() string {
	return path.Join(k.parts()...)
}

var segmentEscaper = strings.NewReplacer("%", "%25", ".", "%2E")

// SegmentName is the shared segment name of the table. Dots inside parts
// are escaped so distinct keys never share a segment.
func (k TableKey) SegmentName() string {
	parts := k.parts()
	for i, p := range parts {
		parts[i] = segmentEscaper.Replace(p)
	}
	return strings.Join(parts, ".")
}

// Dir is the local directory holding head.bin and tail.bin under root.
func (k TableKey) Dir(root string) string {
	return filepath.Join(append([]string{root}, k.parts()...)...)
}
