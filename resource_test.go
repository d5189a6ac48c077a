package effection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	open bool
}

func connResource(into **fakeConn) Resource[*fakeConn] {
	return ResourceFunc[*fakeConn](func(_ context.Context, tk *Task) (*fakeConn, error) {
		c := &fakeConn{open: true}
		tk.Ensure(func(*Task) error {
			c.open = false
			return nil
		})
		*into = c
		return c, nil
	})
}

func TestResourceReleasedOnCompletion(t *testing.T) {
	r := require.New(t)

	var conn *fakeConn
	_, err := New().Run(context.Background(), func(_ context.Context, tk *Task) (any, error) {
		c, err := Use(tk, connResource(&conn))
		if err != nil {
			return nil, err
		}
		r.True(c.open)
		return nil, nil
	})

	r.NoError(err)
	r.NotNil(conn)
	r.False(conn.open)
}

func TestResourceReleasedOnHalt(t *testing.T) {
	r := require.New(t)

	var conn *fakeConn
	var holder *Task
	_, err := New().Run(context.Background(), func(_ context.Context, tk *Task) (any, error) {
		holder = tk.Spawn(func(_ context.Context, tk *Task) (any, error) {
			if _, err := Use(tk, connResource(&conn)); err != nil {
				return nil, err
			}
			tk.Suspend()
			return nil, nil
		})
		tk.Sleep(2 * time.Millisecond)
		r.True(conn.open)
		return nil, holder.Halt(tk)
	})

	r.NoError(err)
	r.Equal(Halted, holder.State())
	r.False(conn.open)
}

func TestResourcesReleaseInReverseAcquisitionOrder(t *testing.T) {
	r := require.New(t)

	var order []string
	named := func(name string) Resource[string] {
		return ResourceFunc[string](func(_ context.Context, tk *Task) (string, error) {
			tk.Ensure(func(*Task) error {
				order = append(order, name)
				return nil
			})
			return name, nil
		})
	}

	_, err := New().Run(context.Background(), func(_ context.Context, tk *Task) (any, error) {
		if _, err := Use(tk, named("db")); err != nil {
			return nil, err
		}
		if _, err := Use(tk, named("socket")); err != nil {
			return nil, err
		}
		return nil, nil
	})

	r.NoError(err)
	r.Equal([]string{"socket", "db"}, order)
}
