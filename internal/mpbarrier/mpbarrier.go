// Package mpbarrier implements the multi-processor rendezvous used at
// kernel handoff: the BSP dispatches a transition callback to every other
// present processor, then spins until all of them have checked in before
// jumping to the kernel itself.
//
// Grounded on spec.md §4.8/§5/§9 and original_source/bootloader/main.c's
// BiDoTransition/BxRunOnOtherCpus call sequence, with the release-store +
// atomic-increment trampoline and acquire-load spin described in spec.md
// §5 built on asm's FetchAddRelease/LoadAcquire (themselves grounded
// on iansmith-mazarin/src/mazboot/golang/internal/runtime/atomic's
// LoadAcq/Xadd naming, per SPEC_FULL.md's ambient-stack wiring).
package mpbarrier

import "github.com/monkuous/xrboot/asm"

// Transition is the callback every processor — BSP and APs alike — invokes
// exactly once, with identical arguments, to jump into the kernel. It
// never returns (spec.md §4.8's BiDoTransition is _Noreturn).
type Transition func()

// KickProcessor dispatches callback to run on the processor identified by
// number, mirroring firmware's APITable.KickProcessor.
type KickProcessor func(number int, ctx any, callback func(number int, ctx any))

// rendezvous is the kick-data record armed on the BSP's stack before
// dispatch (main.c's local kick-data struct, described in spec.md §5).
type rendezvous struct {
	transition Transition
	finished   uint32
}

// trampoline runs on each AP after it is kicked: a release-ordered atomic
// increment of the finished counter, then the transition itself (spec.md
// §5, "The trampoline executes a store-release write-memory-barrier, then
// an atomic fetch_add(1) ...").
func trampoline(number int, ctx any) {
	r := ctx.(*rendezvous)
	asm.FetchAddRelease(&r.finished, 1)
	r.transition()
}

// Run dispatches transition to every present processor other than the
// BSP (processors[bsp] is skipped), waits until all of them have checked
// in, then calls transition on the BSP itself. Processor indices 0 through
// numCPUs-1 are considered, and present reports which of them are
// populated.
func Run(kick KickProcessor, numCPUs int, bsp int, present func(number int) bool, transition Transition) {
	r := &rendezvous{transition: transition}

	want := 0
	for i := 0; i < numCPUs; i++ {
		if i == bsp || !present(i) {
			continue
		}
		want++
		kick(i, r, trampoline)
	}

	for asm.LoadAcquire(&r.finished) != uint32(want) {
		asm.Pause()
	}

	transition()
}
