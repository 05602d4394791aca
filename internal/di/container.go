package di

import (
	"os"
	"path/filepath"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/replication"
	"github.com/alpacahq/shmstore/utils"
	"github.com/alpacahq/shmstore/utils/log"
)

// Container builds the process-wide dependencies of the commands from one
// configuration, each on first use.
type Container struct {
	config     *utils.ShmConfig
	absRootDir string
	catalogDir *catalog.Directory
	registry   *shm.Registry
	publisher  *replication.Publisher
}

func NewContainer(cfg *utils.ShmConfig) *Container {
	return &Container{config: cfg}
}

func (c *Container) Config() *utils.ShmConfig { return c.config }

func (c *Container) GetAbsRootDir() string {
	if c.absRootDir != "" {
		return c.absRootDir
	}
	relRootDir := c.config.RootDirectory

	// rootDir is the absolute path to the data directory.
	// e.g. rootDir = "/project/shmstore/data"
	rootDir, err := filepath.Abs(filepath.Clean(relRootDir))
	if err != nil {
		log.Error("Cannot take absolute path of root directory %s", err.Error())
	} else {
		log.Info("Root Directory: %s", rootDir)
		const ownerGroupAll = 0o770
		err = os.MkdirAll(rootDir, ownerGroupAll)
		if err != nil {
			log.Error("Could not create root directory: %s", err.Error())
			panic(err)
		}
	}
	c.absRootDir = rootDir
	return c.absRootDir
}

// GetRegistry returns the registry of shared segments. The caller closes
// it through Close.
func (c *Container) GetRegistry() (*shm.Registry, error) {
	if c.registry != nil {
		return c.registry, nil
	}
	reg, err := shm.NewRegistry(c.config.ShmDirectory)
	if err != nil {
		return nil, err
	}
	c.registry = reg
	return reg, nil
}

// Close releases what the container built.
func (c *Container) Close() error {
	if c.publisher != nil {
		c.publisher.Close()
	}
	if c.registry != nil {
		return c.registry.Close()
	}
	return nil
}
