package queue

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type msgItem struct {
	Data string
}

func TestLockFreeQueue(t *testing.T) {
	require := require.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := NewLockFreeQueue[*msgItem]()

		require.True(q.IsEmpty())
		require.Equal(0, q.Length())
		_, ok := q.Dequeue()
		require.False(ok)
		_, ok = q.Peek()
		require.False(ok)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewLockFreeQueue[*msgItem]()

		item1 := &msgItem{"data1"}
		item2 := &msgItem{"data2"}
		q.Enqueue(item1)
		q.Enqueue(item2)
		require.Equal(2, q.Length())

		got, ok := q.Dequeue()
		require.True(ok)
		require.Same(item1, got)

		got, ok = q.Peek()
		require.True(ok)
		require.Same(item2, got)
		require.Equal(1, q.Length())

		got, ok = q.Dequeue()
		require.True(ok)
		require.Same(item2, got)
		require.True(q.IsEmpty())
	})

	t.Run("Concurrency", func(t *testing.T) {
		q := NewLockFreeQueue[*msgItem]()

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q.Enqueue(&msgItem{strconv.Itoa(i)})
			}(i)
		}
		wg.Wait()
		require.Equal(1000, q.Length())

		var count sync.Map
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				item, ok := q.Dequeue()
				if ok {
					count.Store(item.Data, true)
				}
			}()
		}
		wg.Wait()

		require.True(q.IsEmpty())
		n := 0
		count.Range(func(_, _ any) bool { n++; return true })
		require.Equal(1000, n)
	})
}

func BenchmarkLockFreeQueue_100(b *testing.B) {
	ctx := context.Background()
	q := NewBlockingQueue[int]()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		done := make(chan struct{})
		go func() {
			for {
				v, ok := q.Take(ctx)
				if !ok || v == 100 {
					close(done)
					return
				}
			}
		}()

		for j := 1; j <= 100; j++ {
			q.Put(j)
		}
		<-done
	}
}
