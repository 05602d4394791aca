package di

import (
	"net"
	"net/http"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/replication"
	"github.com/alpacahq/shmstore/utils/log"
)

// GetPublisher starts serving the replication stream on the configured
// publish address. It returns nil when publishing is not configured.
func (c *Container) GetPublisher() (*replication.Publisher, error) {
	if c.config.PublishListen == "" {
		return nil, nil
	}
	if c.publisher != nil {
		return c.publisher, nil
	}

	lis, err := net.Listen("tcp", c.config.PublishListen)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s for replication", c.config.PublishListen)
	}
	pub := replication.NewPublisher()
	mux := http.NewServeMux()
	mux.HandleFunc(replication.StreamPath, pub.Handler)
	go func() {
		log.Info("publishing table updates on %s", lis.Addr())
		if err := http.Serve(lis, mux); err != nil {
			log.Error("failed to serve replication stream: %v", err)
		}
	}()

	c.publisher = pub
	return pub, nil
}
