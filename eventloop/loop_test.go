package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	l := New()
	defer l.Close()

	var mu time.Time
	_ = mu

	out := make(chan int, 10)
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { out <- i })
	}

	for i := 0; i < 5; i++ {
		require.Equal(t, i, <-out)
	}
}

func TestPostDelayedFires(t *testing.T) {
	l := New()
	defer l.Close()

	done := make(chan struct{})
	l.PostDelayed(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed task never fired")
	}
}

func TestPostDelayedCancel(t *testing.T) {
	l := New()
	defer l.Close()

	fired := make(chan struct{}, 1)
	cancel := l.PostDelayed(20*time.Millisecond, func() { fired <- struct{}{} })
	cancel()

	select {
	case <-fired:
		t.Fatal("cancelled task fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestCloseStopsFutureTasks(t *testing.T) {
	l := New()
	l.Close()

	// Post after close must not panic and must be a no-op.
	l.Post(func() { t.Fatal("task ran after close") })
	time.Sleep(10 * time.Millisecond)
}
