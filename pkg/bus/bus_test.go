package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *recorder) handle(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.samples))
	for i, s := range r.samples {
		out[i] = string(s.Payload)
	}
	return out
}

func TestPublishSubscribe_Order(t *testing.T) {
	b := New(testLogger())
	pubSession := b.Join("driver")
	subSession := b.Join("node")

	var rec recorder
	_, err := subSession.Subscribe("/odom", rec.handle)
	require.NoError(t, err)

	pub, err := pubSession.Publisher("/odom")
	require.NoError(t, err)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, pub.Put([]byte(p)))
	}

	assert.Equal(t, []string{"a", "b", "c"}, rec.payloads())
	assert.Equal(t, int64(3), pub.Sent())
	assert.Equal(t, pubSession.ID(), rec.samples[0].Origin)
}

func TestIgnoreLocalPublications(t *testing.T) {
	b := New(testLogger())
	node := b.Join("node")
	driver := b.Join("driver")

	var own, other recorder
	ownSub, err := node.Subscribe("/odom", own.handle, IgnoreLocalPublications())
	require.NoError(t, err)
	_, err = driver.Subscribe("/odom", other.handle)
	require.NoError(t, err)

	require.NoError(t, node.Publish("/odom", []byte("echo")))
	require.NoError(t, driver.Publish("/odom", []byte("real")))

	assert.Equal(t, []string{"real"}, own.payloads(), "self-published sample must be excluded")
	assert.Equal(t, []string{"echo", "real"}, other.payloads()[:2])
	assert.Equal(t, int64(1), ownSub.Suppressed())
	assert.Equal(t, int64(1), ownSub.Received())
	assert.Equal(t, int64(1), b.Stats().Suppressed)
}

func TestWithoutIgnoreLocal_ReceivesOwn(t *testing.T) {
	b := New(testLogger())
	s := b.Join("loopback")

	var rec recorder
	_, err := s.Subscribe("/t", rec.handle)
	require.NoError(t, err)
	require.NoError(t, s.Publish("/t", []byte("x")))

	assert.Equal(t, []string{"x"}, rec.payloads())
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New(testLogger())
	s := b.Join("s")

	var rec recorder
	_, err := s.Subscribe("/a", rec.handle)
	require.NoError(t, err)

	require.NoError(t, b.Join("p").Publish("/b", []byte("nope")))
	assert.Empty(t, rec.payloads())
}

func TestSubscriberClose(t *testing.T) {
	b := New(testLogger())
	s := b.Join("s")

	var rec recorder
	sub, err := s.Subscribe("/t", rec.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	require.NoError(t, b.Join("p").Publish("/t", []byte("late")))
	assert.Empty(t, rec.payloads())
}

func TestSessionClose(t *testing.T) {
	b := New(testLogger())
	s := b.Join("s")

	pub, err := s.Publisher("/out")
	require.NoError(t, err)
	_, err = s.Subscribe("/in", func(Sample) {})
	require.NoError(t, err)

	require.Len(t, b.Topics(), 2)
	require.NoError(t, s.Close())

	assert.Empty(t, b.Topics())
	assert.ErrorIs(t, pub.Put([]byte("x")), ErrClosed)
	_, err = s.Publisher("/out")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close(), "double close is a no-op")
}

func TestBusClose(t *testing.T) {
	b := New(testLogger())
	s := b.Join("s")
	pub, err := s.Publisher("/t")
	require.NoError(t, err)

	require.NoError(t, b.Close())

	assert.ErrorIs(t, pub.Put([]byte("x")), ErrClosed)
	_, err = s.Subscribe("/t", func(Sample) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestValidation(t *testing.T) {
	s := New(testLogger()).Join("s")

	_, err := s.Publisher("")
	assert.ErrorIs(t, err, ErrEmptyTopic)

	_, err = s.Subscribe("", func(Sample) {})
	assert.ErrorIs(t, err, ErrEmptyTopic)

	_, err = s.Subscribe("/t", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestPublisherIsCached(t *testing.T) {
	b := New(testLogger())
	s := b.Join("s")

	p1, err := s.Publisher("/t")
	require.NoError(t, err)
	p2, err := s.Publisher("/t")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, []TopicInfo{{Name: "/t", Publishers: 1}}, b.Topics())
}

func TestConcurrentPublish(t *testing.T) {
	b := New(testLogger())
	var rec recorder
	_, err := b.Join("sink").Subscribe("/t", rec.handle)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := b.Join("pub")
			for j := 0; j < 50; j++ {
				_ = s.Publish("/t", []byte("x"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, rec.payloads(), 400)
	assert.Equal(t, int64(400), b.Stats().Published)
}
