package replication

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/shmstore/utils/log"
)

// Applier receives replicated rows; executor.Table implements it.
type Applier interface {
	Upsert(ctx context.Context, rows ...[]byte) (inserted, updated int, err error)
}

// inbound is any message a publisher sends.
type inbound struct {
	Streams []string `msgpack:"streams"`
	Error   string   `msgpack:"error"`
	Table   string   `msgpack:"table"`
	Rows    [][]byte `msgpack:"rows"`
}

const (
	defaultRetryInterval = 500 * time.Millisecond
	defaultBackoffCoeff  = 2
)

// Subscriber streams the rows of one table from a Publisher into an
// Applier, reconnecting when the connection drops.
type Subscriber struct {
	url     string
	table   string
	applier Applier
	dialer  *websocket.Dialer

	RetryInterval time.Duration

	applied uint64
}

// NewSubscriber returns a subscriber for ws://host:port/stream.
func NewSubscriber(host string, port int, table string, applier Applier) *Subscriber {
	return &Subscriber{
		url:           fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, strconv.Itoa(port)), StreamPath),
		table:         table,
		applier:       applier,
		dialer:        websocket.DefaultDialer,
		RetryInterval: defaultRetryInterval,
	}
}

func (s *Subscriber) URL() string { return s.url }

// Applied is the number of rows handed to the Applier so far.
func (s *Subscriber) Applied() uint64 { return atomic.LoadUint64(&s.applied) }

// Run streams until ctx is done or the publisher rejects the subscription.
func (s *Subscriber) Run(ctx context.Context) error {
	return NewRetryer(s.session, s.RetryInterval, defaultBackoffCoeff).Run(ctx)
}

func (s *Subscriber) session(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(ErrRetryable, "dial %s: %v", s.url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	// unblock ReadMessage when the caller goes away
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	buf, err := msgpack.Marshal(SubscribeMessage{Streams: []string{s.table}})
	if err != nil {
		return err
	}
	if err = conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return errors.Wrapf(ErrRetryable, "subscribe %s: %v", s.table, err)
	}
	log.Info("subscribed to %s at %s", s.table, s.url)

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(ErrRetryable, "read %s: %v", s.url, err)
		}
		var m inbound
		if err = msgpack.Unmarshal(buf, &m); err != nil {
			log.Error("failed to unmarshal stream message (%v)", err)
			continue
		}
		if m.Error != "" {
			return errors.Errorf("subscription to %s rejected: %s", s.table, m.Error)
		}
		if m.Table != s.table || len(m.Rows) == 0 {
			continue
		}
		ins, upd, err := s.applier.Upsert(ctx, m.Rows...)
		if err != nil {
			// a bad batch is dropped; the stream goes on
			log.Error("apply %d rows to %s: %v", len(m.Rows), s.table, err)
			continue
		}
		atomic.AddUint64(&s.applied, uint64(len(m.Rows)))
		log.Debug("applied %d rows to %s (%d new, %d updated)", len(m.Rows), s.table, ins, upd)
	}
}
