package replication

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/channels"
	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/shmstore/utils/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamPath is the HTTP path a Publisher is served on.
const StreamPath = "/stream"

// SubscribeMessage is an inbound message for the client to subscribe to
// tables. Streams are globs over "namespace/period/source/name". The
// publisher echoes it back once accepted.
type SubscribeMessage struct {
	Streams []string `msgpack:"streams"`
}

// ErrorMessage is used to report errors when a client subscribes to
// invalid streams.
type ErrorMessage struct {
	Error string `msgpack:"error"`
}

// RowBatch carries encoded rows of one table.
type RowBatch struct {
	Table string   `msgpack:"table"`
	Rows  [][]byte `msgpack:"rows"`
}

// Publisher fans row batches out to websocket subscribers.
type Publisher struct {
	sync.RWMutex
	conns    map[*streamConn]struct{}
	send     *channels.InfiniteChannel
	upgrader websocket.Upgrader
	done     chan struct{}
}

func NewPublisher() *Publisher {
	p := &Publisher{
		conns: map[*streamConn]struct{}{},
		send:  channels.NewInfiniteChannel(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		done: make(chan struct{}),
	}
	go p.stream()
	return p
}

// Push queues rows of table for every subscriber whose streams match. It
// never blocks; rows must not be modified afterwards.
func (p *Publisher) Push(table string, rows [][]byte) {
	p.send.In() <- RowBatch{Table: table, Rows: rows}
}

// Close stops streaming and drops every connection.
func (p *Publisher) Close() {
	p.send.Close()
	<-p.done
	p.Lock()
	for c := range p.conns {
		_ = c.c.Close()
	}
	p.Unlock()
}

func (p *Publisher) add(c *streamConn) {
	p.Lock()
	defer p.Unlock()
	p.conns[c] = struct{}{}
}

func (p *Publisher) remove(c *streamConn) {
	p.Lock()
	defer p.Unlock()
	delete(p.conns, c)
}

func (p *Publisher) stream() {
	defer close(p.done)
	for v := range p.send.Out() {
		batch, ok := v.(RowBatch)
		if !ok {
			continue
		}
		buf, err := msgpack.Marshal(batch)
		if err != nil {
			log.Error("failed to marshal outbound row batch (%v)", err)
			continue
		}

		p.RLock()
		for c := range p.conns {
			if c.Subscribed(batch.Table) {
				if err := c.handleOutbound(websocket.BinaryMessage, buf); err != nil {
					log.Error("failed to stream outbound (%v)", err)
				}
			}
		}
		p.RUnlock()
	}
}

// Handler upgrades the request and registers the connection.
func (p *Publisher) Handler(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade stream socket (%v)", err)
		return
	}
	c := &streamConn{
		c:    ws,
		done: make(chan struct{}),
	}
	log.Info("new stream listener: %v", ws.RemoteAddr().String())

	p.add(c)
	go c.consume(p)
	go c.produce()
}

// streamConn is one subscriber connection and the streams it asked for.
type streamConn struct {
	sync.RWMutex
	c       *websocket.Conn
	done    chan struct{}
	streams []glob.Glob
}

// Subscribed matches the connection's streams against a table key.
func (s *streamConn) Subscribed(table string) bool {
	s.RLock()
	defer s.RUnlock()
	for _, g := range s.streams {
		if g.Match(table) {
			return true
		}
	}
	return false
}

func (s *streamConn) handleOutbound(msgType int, buf []byte) error {
	// prevents concurrent write to the websocket connection
	s.Lock()
	defer s.Unlock()
	_ = s.c.SetWriteDeadline(time.Now().Add(writeWait))
	return s.c.WriteMessage(msgType, buf)
}

func (s *streamConn) handleInbound(msg SubscribeMessage) error {
	if len(msg.Streams) == 0 {
		return nil
	}
	// validate each stream before replacing the subscription
	gs := make([]glob.Glob, 0, len(msg.Streams))
	for _, stream := range msg.Streams {
		g, err := validStream(stream)
		if err != nil {
			return err
		}
		gs = append(gs, g)
	}
	s.Lock()
	s.streams = gs
	s.Unlock()
	return nil
}

var streamShape = glob.MustCompile("*/*/*/*", '/')

func validStream(stream string) (glob.Glob, error) {
	if !streamShape.Match(stream) {
		return nil, fmt.Errorf("%s is an invalid stream", stream)
	}
	g, err := glob.Compile(stream, '/')
	if err != nil {
		return nil, fmt.Errorf("%s is an invalid stream: %w", stream, err)
	}
	return g, nil
}

func (s *streamConn) consume(p *Publisher) {
	defer func() {
		p.remove(s)
		close(s.done)
		_ = s.c.Close()
	}()

	_ = s.c.SetReadDeadline(time.Now().Add(pongWait))
	s.c.SetPongHandler(func(string) error {
		return s.c.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, buf, err := s.c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("stream connection closed (%v)", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		m := SubscribeMessage{}
		if err = msgpack.Unmarshal(buf, &m); err != nil {
			log.Error("failed to unmarshal inbound stream message (%v)", err)
			continue
		}
		if err := s.handleInbound(m); err != nil {
			buf, _ = msgpack.Marshal(ErrorMessage{Error: err.Error()})
		}
		if err := s.handleOutbound(websocket.BinaryMessage, buf); err != nil {
			log.Error("failed to send stream message (%v)", err)
		}
	}
}

func (s *streamConn) produce() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.handleOutbound(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
