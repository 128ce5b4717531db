package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceQueue(t *testing.T) {
	assert := assert.New(t)
	t.Run("Empty Queue", func(t *testing.T) {
		q := NewSlice[*sampleItem](1)

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())

		item, ok := q.Dequeue()
		assert.False(ok)
		assert.Nil(item)

		item, ok = q.Peek()
		assert.False(ok)
		assert.Nil(item)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewSlice[*sampleItem](1)

		item1 := &sampleItem{"data1"}
		q.Enqueue(item1)
		assert.False(q.IsEmpty())
		assert.Equal(1, q.Length())

		item2 := &sampleItem{"data2"}
		q.Enqueue(item2)
		assert.Equal(2, q.Length())

		dequeued1, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(item1, dequeued1)
		assert.Equal(1, q.Length())

		dequeued2, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(item2, dequeued2)
		assert.True(q.IsEmpty())

		_, ok = q.Dequeue()
		assert.False(ok)
		assert.True(q.IsEmpty())
	})

	t.Run("Peek", func(t *testing.T) {
		q := NewSlice[*sampleItem](1)

		item1 := &sampleItem{"data1"}
		item2 := &sampleItem{"data2"}
		q.Enqueue(item1)

		head, ok := q.Peek()
		assert.True(ok)
		assert.Equal(item1, head)
		assert.Equal(1, q.Length()) // Length should not change after peek

		q.Enqueue(item2)

		head, ok = q.Peek()
		assert.True(ok)
		assert.Equal(item1, head)
		assert.Equal(2, q.Length())

		q.Dequeue()
		head, ok = q.Peek()
		assert.True(ok)
		assert.Equal(item2, head)
		assert.Equal(1, q.Length())

		q.Dequeue()
		_, ok = q.Peek()
		assert.False(ok)
		assert.Equal(0, q.Length())
	})

	t.Run("Reset", func(t *testing.T) {
		q := NewSlice[int](4)
		for i := 0; i < 4; i++ {
			q.Enqueue(i)
		}
		q.Reset()
		assert.True(q.IsEmpty())

		q.Enqueue(42)
		head, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(42, head)
	})

	t.Run("Locked Concurrency", func(t *testing.T) {
		var mu sync.Mutex
		q := NewSlice[int](1)

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				mu.Lock()
				q.Enqueue(i)
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		assert.Equal(1000, q.Length())

		wg.Add(1000)
		for i := 0; i < 1000; i++ {
			go func() {
				defer wg.Done()
				mu.Lock()
				q.Dequeue()
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.True(q.IsEmpty())
	})
}
