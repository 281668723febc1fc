// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"time"

	"github.com/gomlx/exceptions"
)

// nTimes implements NTimesDuringLoop.
type nTimes struct {
	n, calls int
	fn       OnStepFn
}

func (nT *nTimes) onStep(loop *Loop, metrics []float64) error {
	stepsDone := loop.LoopStep - loop.StartStep + 1
	if loop.EndStep < 0 {
		// End not known yet (first epoch): call at powers of 2, starting at 128.
		if stepsDone < (128 << nT.calls) {
			return nil
		}
	} else if loop.LoopStep < loop.EndStep-1 {
		totalSteps := loop.EndStep - loop.StartStep
		stepsPerCall := float64(totalSteps) / float64(nT.n)
		if stepsPerCall > 1 && float64(nT.calls) > float64(stepsDone)/stepsPerCall {
			return nil
		}
	}
	nT.calls++
	return nT.fn(loop, metrics)
}

// NTimesDuringLoop registers an OnStep hook on the loop that is called about n times, split evenly
// across all steps. The last step (LoopStep == EndStep-1) is always included.
//
// With Loop.RunEpochs the number of steps is only known after the first epoch, so it may call fn a few
// more times than n.
func NTimesDuringLoop(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	if n <= 0 {
		exceptions.Panicf("NTimesDuringLoop(n=%d): n must be > 0", n)
	}
	nT := &nTimes{n: n, fn: fn}
	loop.OnStep(fmt.Sprintf("NTimesDuringLoop(%d): %s", n, name), priority, nT.onStep)
}

// EveryNSteps registers an OnStep hook on the loop that is called every n steps, counted from the
// first step the hook sees.
//
// Notice that it does not call `fn` at the last step (except by coincidence).
func EveryNSteps(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	if n <= 0 {
		exceptions.Panicf("EveryNSteps(n=%d): n must be > 0", n)
	}
	count := 0
	loop.OnStep(fmt.Sprintf("EveryNSteps(%d): %s", n, name), priority, func(loop *Loop, metrics []float64) error {
		count++
		if count%n != 0 {
			return nil
		}
		return fn(loop, metrics)
	})
}

// EveryNEpochs registers an OnEpoch hook on the loop that is called at every n-th epoch, that is
// when (Epoch+1) is a multiple of n.
func EveryNEpochs(loop *Loop, n int, name string, priority Priority, fn OnEpochFn) {
	if n <= 0 {
		exceptions.Panicf("EveryNEpochs(n=%d): n must be > 0", n)
	}
	loop.OnEpoch(fmt.Sprintf("EveryNEpochs(%d): %s", n, name), priority, func(loop *Loop, stats EpochStats) error {
		if (stats.Epoch+1)%n != 0 {
			return nil
		}
		return fn(loop, stats)
	})
}

type periodicCallback struct {
	last    time.Time
	period  time.Duration
	started bool
	fn      OnStepFn
}

func (p *periodicCallback) onStep(loop *Loop, metrics []float64) error {
	if !p.started {
		p.started = true
		p.last = time.Now()
		return nil
	}
	if time.Since(p.last) < p.period {
		return nil
	}
	err := p.fn(loop, metrics)
	p.last = time.Now()
	return err
}

// PeriodicCallback registers an OnStep hook on the loop that is called every period of time.
// The period counts after the execution of `fn`, so an expensive `fn` doesn't eat into the period.
//
// If callOnEnd is set, `fn` is also called at the end of the loop, with the final metrics.
func PeriodicCallback(loop *Loop, period time.Duration, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	p := &periodicCallback{period: period, fn: fn}
	fullName := fmt.Sprintf("PeriodicCallback(%s): %s", period, name)
	loop.OnStep(fullName, priority, p.onStep)
	if callOnEnd {
		loop.OnEnd(fullName, priority, func(loop *Loop, metrics []float64) error { return p.fn(loop, metrics) })
	}
}
