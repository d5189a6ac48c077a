package effection

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunCompletes(t *testing.T) {
	r := require.New(t)

	v, err := New().Run(context.Background(), func(_ context.Context, _ *Task) (any, error) {
		return 42, nil
	})

	r.NoError(err)
	r.Equal(42, v)
}

func TestCompletionPassesThroughCompleting(t *testing.T) {
	r := require.New(t)

	var seen []State
	v, err := New().Run(context.Background(), func(_ context.Context, tk *Task) (any, error) {
		tk.Ensure(func(tk *Task) error {
			seen = append(seen, tk.State())
			return nil
		})
		return "done", nil
	})

	r.NoError(err)
	r.Equal("done", v)
	r.Equal([]State{Completing}, seen)
}

func TestRunContextCancelHaltsRoot(t *testing.T) {
	r := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	var root *Task
	v, err := New().Run(ctx, func(_ context.Context, tk *Task) (any, error) {
		root = tk
		tk.Suspend()
		return nil, nil
	})

	r.NoError(err)
	r.Nil(v)
	r.Equal(Halted, root.State())
}

func TestShutdownHaltsRoot(t *testing.T) {
	r := require.New(t)

	s := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Shutdown()
	}()

	var root *Task
	v, err := s.Run(context.Background(), func(_ context.Context, tk *Task) (any, error) {
		root = tk
		tk.Suspend()
		return nil, nil
	})

	r.NoError(err)
	r.Nil(v)
	r.Equal(Halted, root.State())
}

func TestShutdownBeforeRunIsDropped(t *testing.T) {
	r := require.New(t)

	s := New()
	s.Shutdown()

	v, err := s.Run(context.Background(), func(_ context.Context, _ *Task) (any, error) {
		return "ran", nil
	})

	r.NoError(err)
	r.Equal("ran", v)
}

func TestSleepElapses(t *testing.T) {
	r := require.New(t)

	v, err := New().Run(context.Background(), func(_ context.Context, tk *Task) (any, error) {
		start := time.Now()
		tk.Sleep(30 * time.Millisecond)
		return time.Since(start), nil
	})

	r.NoError(err)
	r.GreaterOrEqual(v.(time.Duration), 30*time.Millisecond)
}

func TestSchedulerDrainsEveryTask(t *testing.T) {
	r := require.New(t)

	s := New()
	_, err := s.Run(context.Background(), func(_ context.Context, tk *Task) (any, error) {
		for i := 0; i < 10; i++ {
			tk.Spawn(func(_ context.Context, tk *Task) (any, error) {
				tk.Spawn(func(_ context.Context, tk *Task) (any, error) {
					tk.Suspend()
					return nil, nil
				})
				tk.Suspend()
				return nil, nil
			})
		}
		tk.Sleep(5 * time.Millisecond)
		return nil, nil
	})

	r.NoError(err)
	r.Equal(0, s.ActiveTasks())
}

func TestSequentialRuns(t *testing.T) {
	r := require.New(t)

	s := New()
	for i := 0; i < 3; i++ {
		v, err := s.Run(context.Background(), func(_ context.Context, _ *Task) (any, error) {
			return i, nil
		})
		r.NoError(err)
		r.Equal(i, v)
	}
}

func TestTaskFromContext(t *testing.T) {
	r := require.New(t)

	_, err := New().Run(context.Background(), func(ctx context.Context, tk *Task) (any, error) {
		found, ok := TaskFromContext(ctx)
		r.True(ok)
		r.Same(tk, found)
		r.Same(tk, MustTaskFromContext(ctx))
		return nil, nil
	})

	r.NoError(err)
}

func TestMetricsReportOutcomes(t *testing.T) {
	r := require.New(t)

	reg := prometheus.NewRegistry()
	s := New(WithRegisterer(reg))

	_, err := s.Run(context.Background(), func(_ context.Context, tk *Task) (any, error) {
		done := tk.Spawn(func(_ context.Context, _ *Task) (any, error) {
			return nil, nil
		})
		done.Await(tk)

		stuck := tk.Spawn(func(_ context.Context, tk *Task) (any, error) {
			tk.Suspend()
			return nil, nil
		})
		tk.Sleep(2 * time.Millisecond)
		return nil, stuck.Halt(tk)
	})
	r.NoError(err)

	families, err := reg.Gather()
	r.NoError(err)

	values := map[string]float64{}
	for _, mf := range families {
		var sum float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			}
		}
		values[mf.GetName()] = sum
	}

	r.Equal(float64(3), values["effection_tasks_spawned_total"])
	r.Equal(float64(3), values["effection_tasks_terminated_total"])
	r.Equal(float64(0), values["effection_tasks_active"])
}
