package di

import (
	"github.com/alpacahq/shmstore/catalog"
)

func (c *Container) GetCatalogDir() *catalog.Directory {
	if c.catalogDir != nil {
		return c.catalogDir
	}
	c.catalogDir = catalog.NewDirectory(c.GetAbsRootDir())
	return c.catalogDir
}
