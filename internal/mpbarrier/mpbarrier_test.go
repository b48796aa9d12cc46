package mpbarrier_test

import (
	"sync"
	"testing"

	"github.com/monkuous/xrboot/internal/mpbarrier"
	"github.com/stretchr/testify/assert"
)

// asyncKick simulates firmware's KickProcessor by running the callback on
// its own goroutine, so Run's acquire-spin has something concurrent to
// wait on rather than running every trampoline synchronously inline.
func asyncKick(wg *sync.WaitGroup) mpbarrier.KickProcessor {
	return func(number int, ctx any, callback func(number int, ctx any)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callback(number, ctx)
		}()
	}
}

func TestRunWaitsForAllPresentProcessors(t *testing.T) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var called []int

	present := func(number int) bool { return true }

	done := make(chan struct{})
	mpbarrier.Run(asyncKick(&wg), 4, 0, present, func() {
		mu.Lock()
		called = append(called, len(called))
		mu.Unlock()
		close(done)
	})

	wg.Wait()
	<-done
	assert.Len(t, called, 1)
}

func TestRunSkipsAbsentProcessorsAndBSP(t *testing.T) {
	var wg sync.WaitGroup
	var kicked []int
	var mu sync.Mutex

	kick := func(number int, ctx any, callback func(number int, ctx any)) {
		mu.Lock()
		kicked = append(kicked, number)
		mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			callback(number, ctx)
		}()
	}

	present := func(number int) bool { return number != 2 }

	transitioned := make(chan struct{})
	mpbarrier.Run(kick, 4, 0, present, func() { close(transitioned) })

	wg.Wait()
	<-transitioned
	assert.ElementsMatch(t, []int{1, 3}, kicked)
}

func TestRunWithNoOtherProcessorsTransitionsImmediately(t *testing.T) {
	called := false
	mpbarrier.Run(
		func(number int, ctx any, callback func(number int, ctx any)) { t.Fatal("unexpected kick") },
		1, 0,
		func(number int) bool { return false },
		func() { called = true },
	)
	assert.True(t, called)
}
