package replication_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/shmstore/replication"
)

type mockApplier struct {
	mu   sync.Mutex
	rows [][]byte
}

func (m *mockApplier) Upsert(_ context.Context, rows ...[]byte) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	return len(rows), 0, nil
}

func (m *mockApplier) received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.rows...)
}

func startPublisher(t *testing.T) (*replication.Publisher, string, int) {
	t.Helper()
	pub := replication.NewPublisher()
	mux := http.NewServeMux()
	mux.HandleFunc(replication.StreamPath, pub.Handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		pub.Close()
		srv.Close()
	})
	addr := srv.Listener.Addr().(*net.TCPAddr)
	return pub, addr.IP.String(), addr.Port
}

func TestSubscriberAppliesMatchingBatches(t *testing.T) {
	t.Parallel()
	// --- given ---
	pub, host, port := startPublisher(t)
	applier := &mockApplier{}
	sub := replication.NewSubscriber(host, port, "equity/1D/iex/AAPL", applier)
	sub.RetryInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	// --- when ---
	// the subscription is registered asynchronously, so push until it lands
	deadline := time.Now().Add(5 * time.Second)
	for len(applier.received()) == 0 && time.Now().Before(deadline) {
		pub.Push("equity/1D/iex/MSFT", [][]byte{[]byte("other")})
		pub.Push("equity/1D/iex/AAPL", [][]byte{[]byte("row-1"), []byte("row-2")})
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	// --- then ---
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}
	got := applier.received()
	require.NotEmpty(t, got)
	for _, r := range got {
		assert.Contains(t, []string{"row-1", "row-2"}, string(r))
	}
	assert.EqualValues(t, len(got), sub.Applied())
}

func TestSubscriberRejected(t *testing.T) {
	t.Parallel()
	_, host, port := startPublisher(t)
	sub := replication.NewSubscriber(host, port, "not-a-table-key", &mockApplier{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sub.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid stream")
	assert.NoError(t, ctx.Err())
}

func TestSubscriberRetriesUntilCanceled(t *testing.T) {
	t.Parallel()
	// nothing listens on this port once the listener is closed
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	sub := replication.NewSubscriber("127.0.0.1", port, "equity/1D/iex/AAPL", &mockApplier{})
	sub.RetryInterval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, sub.Run(ctx))
	assert.Error(t, ctx.Err())
}
