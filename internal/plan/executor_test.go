package plan

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cargo-optee/internal/config"
	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/testutil"
)

// diamond is ta.base <- {ca.left, ca.right} <- plugin.top, plus an
// unrelated ta.solo.
func diamond(t *testing.T) *Plan {
	t.Helper()
	p, err := newPlan([]*Component{
		{ID: "ta.base", Kind: config.KindTA},
		{ID: "ca.left", Kind: config.KindCA, DependsOn: []string{"ta.base"}},
		{ID: "ca.right", Kind: config.KindCA, DependsOn: []string{"ta.base"}},
		{ID: "plugin.top", Kind: config.KindPlugin, DependsOn: []string{"ca.left", "ca.right", "ca.left"}},
		{ID: "ta.solo", Kind: config.KindTA},
	})
	require.NoError(t, err)
	return p
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, id)
}

func (r *recorder) index(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Index(r.order, id)
}

func TestExecutor_RespectsDependencies(t *testing.T) {
	t.Parallel()

	for _, jobs := range []int{0, 1, 2, 8} {
		jobs := jobs
		t.Run(fmt.Sprintf("jobs=%d", jobs), func(t *testing.T) {
			t.Parallel()

			// Arrange
			logger, _ := testutil.NewLogger(t)
			ctx := ctxlog.WithLogger(context.Background(), logger)
			p := diamond(t)
			rec := &recorder{}

			// Act
			report, err := NewExecutor(jobs).Run(ctx, p, func(_ context.Context, c *Component) error {
				rec.add(c.ID)
				return nil
			})

			// Assert
			require.NoError(t, err)
			require.Len(t, rec.order, 5)
			assert.Less(t, rec.index("ta.base"), rec.index("ca.left"))
			assert.Less(t, rec.index("ta.base"), rec.index("ca.right"))
			assert.Less(t, rec.index("ca.left"), rec.index("plugin.top"))
			assert.Less(t, rec.index("ca.right"), rec.index("plugin.top"))
			for _, id := range p.Order() {
				assert.Equal(t, Done, report.Status(id), id)
			}
		})
	}
}

func TestExecutor_SequentialFollowsPlanOrder(t *testing.T) {
	t.Parallel()

	p := diamond(t)
	rec := &recorder{}

	_, err := NewExecutor(1).Run(context.Background(), p, func(_ context.Context, c *Component) error {
		rec.add(c.ID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, p.Order(), rec.order)
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	// Arrange
	var components []*Component
	for _, id := range []string{"ta.a", "ta.b", "ta.c", "ta.d", "ta.e", "ta.f"} {
		components = append(components, &Component{ID: id, Kind: config.KindTA})
	}
	p, err := newPlan(components)
	require.NoError(t, err)

	var running, peak atomic.Int32

	// Act
	_, err = NewExecutor(2).Run(context.Background(), p, func(context.Context, *Component) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	// Assert
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecutor_WaitingComponentsDoNotHoldSlots(t *testing.T) {
	t.Parallel()

	// Arrange
	// ta.slow only finishes once ca.fast has been built, which needs the
	// second slot while ca.afterslow is still waiting on ta.slow.
	p, err := newPlan([]*Component{
		{ID: "ta.slow", Kind: config.KindTA},
		{ID: "ta.quick", Kind: config.KindTA},
		{ID: "ca.afterslow", Kind: config.KindCA, DependsOn: []string{"ta.slow"}},
		{ID: "ca.fast", Kind: config.KindCA, DependsOn: []string{"ta.quick"}},
	})
	require.NoError(t, err)
	fastDone := make(chan struct{})

	// Act
	report, err := NewExecutor(2).Run(context.Background(), p, func(_ context.Context, c *Component) error {
		switch c.ID {
		case "ta.slow":
			select {
			case <-fastDone:
				return nil
			case <-time.After(5 * time.Second):
				return errors.New("ca.fast never started while ta.slow was building")
			}
		case "ca.fast":
			close(fastDone)
		}
		return nil
	})

	// Assert
	require.NoError(t, err)
	for _, id := range p.Order() {
		assert.Equal(t, Done, report.Status(id), id)
	}
}

func TestExecutor_FailureSkipsDependents(t *testing.T) {
	t.Parallel()

	for _, jobs := range []int{1, 4} {
		jobs := jobs
		t.Run(fmt.Sprintf("jobs=%d", jobs), func(t *testing.T) {
			t.Parallel()

			// Arrange
			p := diamond(t)
			boom := errors.New("clippy failed")
			rec := &recorder{}

			// Act
			report, err := NewExecutor(jobs).Run(context.Background(), p, func(_ context.Context, c *Component) error {
				rec.add(c.ID)
				if c.ID == "ca.left" {
					return boom
				}
				return nil
			})

			// Assert
			require.ErrorIs(t, err, boom)
			assert.ErrorContains(t, err, "component ca.left")
			assert.NotErrorIs(t, err, ErrSkipped)
			assert.Equal(t, Failed, report.Status("ca.left"))
			assert.Equal(t, Skipped, report.Status("plugin.top"))
			assert.Equal(t, -1, rec.index("plugin.top"), "dependents must not start")
		})
	}
}

func TestExecutor_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32

	report, err := NewExecutor(2).Run(ctx, diamond(t), func(context.Context, *Component) error {
		calls.Add(1)
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
	assert.Equal(t, Skipped, report.Status("ta.base"))
}
