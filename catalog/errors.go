package catalog

import (
	"fmt"
)

type InvalidKeyError string

func (msg InvalidKeyError) Error() string {
	return fmt.Sprintf("%q: table key must be namespace/period/source/name with non empty parts and no path separators", string(msg))
}

type NotFoundError string

func (msg NotFoundError) Error() string {
	return fmt.Sprintf("%s: table not found in catalog", string(msg))
}
