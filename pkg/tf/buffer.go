// Package tf keeps a tree of coordinate frames fed from /tf and /tf_static
// and answers "where is frame B relative to frame A right now".
//
// Only the latest transform per edge is kept; there is no history and no
// interpolation. Dynamic edges expire after CacheTime so a silent publisher
// eventually makes lookups fail instead of serving an ancient pose.
package tf

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-robotstate/internal/clock"
	"github.com/teslashibe/go-robotstate/pkg/geometry"
)

// DefaultCacheTime is how long a dynamic edge stays valid without updates.
const DefaultCacheTime = 10 * time.Second

// maxDepth bounds tree walks so a corrupt graph can never spin forever.
const maxDepth = 64

var (
	// ErrUnknownFrame is returned when a frame has never been seen.
	ErrUnknownFrame = errors.New("tf: unknown frame")

	// ErrDisconnected is returned when two frames share no common ancestor.
	ErrDisconnected = errors.New("tf: frames are not connected")

	// ErrExpired is returned when the chain contains an expired dynamic edge.
	ErrExpired = errors.New("tf: transform expired")

	// ErrInvalid is returned by Set for malformed transforms.
	ErrInvalid = errors.New("tf: invalid transform")
)

// Graph is the transform capability the arbitration fallback consumes.
type Graph interface {
	// CanTransform reports whether target←source can be resolved, waiting at
	// most timeout for it to become resolvable.
	CanTransform(target, source string, timeout time.Duration) bool

	// LookupTransform returns the latest target←source transform.
	LookupTransform(target, source string) (Stamped, error)
}

// Stamped is a transform from Child coordinates into Parent coordinates.
type Stamped struct {
	Parent    string
	Child     string
	Stamp     time.Time
	Transform geometry.Transform
}

type edge struct {
	Stamped
	static   bool
	received time.Time
}

// Buffer is a thread-safe frame tree implementing Graph.
type Buffer struct {
	clock     clock.Clock
	cacheTime time.Duration

	mu      sync.Mutex
	edges   map[string]*edge // keyed by child frame
	changed chan struct{}    // closed and replaced on every Set
}

var _ Graph = (*Buffer)(nil)

// NewBuffer creates an empty buffer. cacheTime <= 0 selects DefaultCacheTime.
func NewBuffer(clk clock.Clock, cacheTime time.Duration) *Buffer {
	if clk == nil {
		clk = clock.Real{}
	}
	if cacheTime <= 0 {
		cacheTime = DefaultCacheTime
	}
	return &Buffer{
		clock:     clk,
		cacheTime: cacheTime,
		edges:     make(map[string]*edge),
		changed:   make(chan struct{}),
	}
}

// Set inserts or replaces the edge Parent←Child.
func (b *Buffer) Set(st Stamped, static bool) error {
	switch {
	case st.Parent == "" || st.Child == "":
		return fmt.Errorf("%w: empty frame id", ErrInvalid)
	case st.Parent == st.Child:
		return fmt.Errorf("%w: %s is its own parent", ErrInvalid, st.Child)
	case st.Transform.Rotation.IsZero():
		return fmt.Errorf("%w: zero quaternion for %s", ErrInvalid, st.Child)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.createsCycle(st.Parent, st.Child) {
		return fmt.Errorf("%w: %s→%s would create a cycle", ErrInvalid, st.Parent, st.Child)
	}

	b.edges[st.Child] = &edge{Stamped: st, static: static, received: b.clock.Now()}
	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// createsCycle reports whether making child a child of parent would loop.
// Caller holds b.mu.
func (b *Buffer) createsCycle(parent, child string) bool {
	frame := parent
	for i := 0; i < maxDepth; i++ {
		if frame == child {
			return true
		}
		e, ok := b.edges[frame]
		if !ok {
			return false
		}
		frame = e.Parent
	}
	return true
}

// Frames returns every known frame id.
func (b *Buffer) Frames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{})
	for child, e := range b.edges {
		seen[child] = struct{}{}
		seen[e.Parent] = struct{}{}
	}
	frames := make([]string, 0, len(seen))
	for f := range seen {
		frames = append(frames, f)
	}
	return frames
}

// LookupTransform returns the latest target←source transform.
func (b *Buffer) LookupTransform(target, source string) (Stamped, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookup(target, source)
}

// CanTransform waits up to timeout for target←source to become resolvable.
// A zero or negative timeout checks once without waiting.
func (b *Buffer) CanTransform(target, source string, timeout time.Duration) bool {
	deadline := time.NewTimer(max(timeout, 0))
	defer deadline.Stop()

	for {
		b.mu.Lock()
		_, err := b.lookup(target, source)
		changed := b.changed
		b.mu.Unlock()

		if err == nil {
			return true
		}
		if timeout <= 0 {
			return false
		}

		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// chain walks from frame to the root, returning the frames visited
// (starting with frame itself) and the root←frame transform of each.
// Caller holds b.mu.
func (b *Buffer) chain(frame string, now time.Time) ([]string, []geometry.Transform, time.Time, error) {
	frames := []string{frame}
	toRoot := []geometry.Transform{geometry.IdentityTransform}
	var oldest time.Time

	// acc accumulates parent_k←frame as we climb.
	acc := geometry.IdentityTransform
	cur := frame
	for i := 0; i < maxDepth; i++ {
		e, ok := b.edges[cur]
		if !ok {
			return frames, toRoot, oldest, nil
		}
		if !e.static && now.Sub(e.received) > b.cacheTime {
			return nil, nil, time.Time{}, fmt.Errorf("%w: %s→%s last updated %s ago",
				ErrExpired, e.Parent, e.Child, now.Sub(e.received).Round(time.Millisecond))
		}
		if !e.static && (oldest.IsZero() || e.Stamp.Before(oldest)) {
			oldest = e.Stamp
		}
		acc = e.Transform.Compose(acc)
		cur = e.Parent
		frames = append(frames, cur)
		toRoot = append(toRoot, acc)
	}
	return nil, nil, time.Time{}, fmt.Errorf("%w: tree deeper than %d", ErrInvalid, maxDepth)
}

func (b *Buffer) known(frame string) bool {
	if _, ok := b.edges[frame]; ok {
		return true
	}
	for _, e := range b.edges {
		if e.Parent == frame {
			return true
		}
	}
	return false
}

// lookup resolves target←source through their lowest common ancestor.
// Caller holds b.mu.
func (b *Buffer) lookup(target, source string) (Stamped, error) {
	now := b.clock.Now()

	for _, f := range []string{target, source} {
		if !b.known(f) {
			return Stamped{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f)
		}
	}

	if target == source {
		return Stamped{Parent: target, Child: source, Stamp: now, Transform: geometry.IdentityTransform}, nil
	}

	srcFrames, srcTF, srcStamp, err := b.chain(source, now)
	if err != nil {
		return Stamped{}, err
	}
	tgtFrames, tgtTF, tgtStamp, err := b.chain(target, now)
	if err != nil {
		return Stamped{}, err
	}

	// index of each target-side ancestor
	tgtIndex := make(map[string]int, len(tgtFrames))
	for i, f := range tgtFrames {
		tgtIndex[f] = i
	}

	for i, f := range srcFrames {
		j, ok := tgtIndex[f]
		if !ok {
			continue
		}
		// srcTF[i] = common←source, tgtTF[j] = common←target
		tf := tgtTF[j].Inverse().Compose(srcTF[i])
		return Stamped{
			Parent:    target,
			Child:     source,
			Stamp:     latest(srcStamp, tgtStamp),
			Transform: tf,
		}, nil
	}

	return Stamped{}, fmt.Errorf("%w: %s and %s", ErrDisconnected, target, source)
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
