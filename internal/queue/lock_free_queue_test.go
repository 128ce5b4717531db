package queue

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sampleItem struct {
	Data string
}

func TestLockFreeQueue(t *testing.T) {
	assert := assert.New(t)
	t.Run("Empty Queue", func(t *testing.T) {
		q := NewLockFree[*sampleItem]()

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
		q := NewLockFree[*sampleItem]()

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
		q := NewLockFree[*sampleItem]()

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

	t.Run("Concurrency", func(t *testing.T) {
		q := NewLockFree[*sampleItem]()

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q.Enqueue(&sampleItem{strconv.Itoa(i)})
			}(i)
		}
		wg.Wait()

		assert.Equal(1000, q.Length())

		wg.Add(1000)
		for i := 0; i < 1000; i++ {
			go func() {
				defer wg.Done()
				q.Dequeue()
			}()
		}
		wg.Wait()

		assert.True(q.IsEmpty())
	})

	t.Run("FIFO Order Under Single Producer", func(t *testing.T) {
		q := NewLockFree[int]()
		done := make(chan struct{})
		const count = 500

		go func() {
			defer close(done)
			expected := 0
			for expected < count {
				v, ok := q.Dequeue()
				if !ok {
					continue
				}
				assert.Equal(expected, v)
				expected++
			}
		}()

		for i := 0; i < count; i++ {
			q.Enqueue(i)
		}
		<-done
	})
}

func BenchmarkLockFreeQueue_100(b *testing.B) {
	benchLockFreeQueue(b, 100)
}

func BenchmarkChannelBuffered_100(b *testing.B) {
	benchChannel(b, 100, true)
}

func benchLockFreeQueue(b *testing.B, iterCount int) {
	q := NewLockFree[int]()

	// warm up queue
	for i := 0; i < iterCount; i++ {
		q.Enqueue(i)
	}

	for i := 0; i < iterCount; i++ {
		_, _ = q.Dequeue()
	}

	b.ResetTimer()
	for i := 0; i <= b.N; i++ {
		stopCh := make(chan struct{})
		go func(q Queue[int]) {
			for {
				item, ok := q.Dequeue()
				if !ok {
					continue
				}
				if item == iterCount {
					close(stopCh)
					return
				}
			}
		}(q)

		for i := 0; i < iterCount; i++ {
			q.Enqueue(i + 1)
		}
		<-stopCh
	}
	b.StopTimer()
}

func benchChannel(b *testing.B, iterCount int, buffered bool) {
	var input chan int
	if buffered {
		input = make(chan int, iterCount)
	} else {
		input = make(chan int)
	}
	b.ResetTimer()
	for i := 0; i <= b.N; i++ {
		stopCh := make(chan struct{})
		go func(input chan int) {
			for data := range input {
				if data == iterCount {
					close(stopCh)
					return
				}
			}
		}(input)

		for i := 0; i < iterCount; i++ {
			input <- (i + 1)
		}
		<-stopCh
	}
	b.StopTimer()
}
