package hsms

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fablink/go-hsms/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestListenerRegistry(t *testing.T) {
	require := require.New(t)

	r := NewListenerRegistry[func(int)]()
	var got []int

	id1 := r.Add(func(v int) { got = append(got, v) })
	id2 := r.Add(func(v int) { got = append(got, v*10) })
	require.NotEqual(id1, id2)
	require.Equal(2, r.Len())

	for _, fn := range r.Listeners() {
		fn(1)
	}
	require.Equal([]int{1, 10}, got)

	snapshot := r.snapshot()
	require.True(r.Remove(id1))
	require.False(r.Remove(id1))
	require.Len(snapshot, 2, "earlier snapshot must stay intact")
	require.Equal(1, r.Len())

	require.False(r.Remove(ListenerID(0)))
}

func TestDispatcher_Order(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)
	d := NewDispatcher[int]("test", nil)

	var mu sync.Mutex
	var first, second []int
	d.AddListener(func(v int) {
		mu.Lock()
		first = append(first, v)
		mu.Unlock()
	})
	d.AddListener(func(v int) {
		mu.Lock()
		second = append(second, v)
		mu.Unlock()
	})

	require.NoError(d.Start(mgr))
	for i := 0; i < 100; i++ {
		require.True(d.Notify(i))
	}

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(second) == 100
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	for i := 0; i < 100; i++ {
		require.Equal(i, first[i])
		require.Equal(i, second[i])
	}
	mu.Unlock()

	mgr.Stop()
	mgr.Wait()
	require.False(d.Notify(101))
}

func TestDispatcher_PanickingListener(t *testing.T) {
	require := require.New(t)

	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Maybe()
	mockLogger.On("Error", "panic in listener", mock.Anything).Times(3)

	mgr := NewTaskManager(context.Background(), mockLogger)
	d := NewDispatcher[string]("recv", mockLogger)

	var delivered atomic.Int32
	d.AddListener(func(string) { panic("bad listener") })
	d.AddListener(func(string) { delivered.Add(1) })

	require.NoError(d.Start(mgr))
	d.Notify("a")
	d.Notify("b")
	d.Notify("c")

	require.Eventually(func() bool { return delivered.Load() == 3 }, time.Second, 5*time.Millisecond)

	mgr.Stop()
	mgr.Wait()
	mockLogger.AssertExpectations(t)
}

func TestDispatcher_NotifyOne(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)
	defer func() {
		mgr.Stop()
		mgr.Wait()
	}()

	d := NewDispatcher[int]("one", nil)
	var a, b atomic.Int32
	d.AddListener(func(int) { a.Add(1) })
	idB := d.AddListener(func(int) { b.Add(1) })
	require.NoError(d.Start(mgr))

	d.NotifyOne(idB, 1)
	d.Notify(2)

	require.Eventually(func() bool { return a.Load() == 1 && b.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_RemoveDuringDispatch(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)
	defer func() {
		mgr.Stop()
		mgr.Wait()
	}()

	d := NewDispatcher[int]("remove", nil)
	var count atomic.Int32
	var selfID ListenerID
	selfID = d.AddListener(func(int) {
		count.Add(1)
		d.RemoveListener(selfID)
	})
	require.NoError(d.Start(mgr))

	d.Notify(1)
	d.Notify(2)
	require.Eventually(func() bool { return d.Pending() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(int32(1), count.Load())
	require.Zero(d.ListenerCount())
}

func TestDispatcher_DrainOnStop(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)
	d := NewDispatcher[int]("log", nil)

	var count atomic.Int32
	release := make(chan struct{})
	d.AddListener(func(int) {
		<-release
		count.Add(1)
	})
	require.NoError(d.Start(mgr))

	for i := 0; i < 5; i++ {
		d.Notify(i)
	}
	mgr.Stop()
	close(release)
	mgr.Wait()

	require.Equal(int32(5), count.Load())
}
