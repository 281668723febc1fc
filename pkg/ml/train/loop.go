// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop, ds Dataset) error

// OnStepFn is the type of OnStep hooks. metrics are the values returned by Trainer.TrainStep,
// the first being the batch loss.
type OnStepFn func(loop *Loop, metrics []float64) error

// OnEpochFn is the type of OnEpoch hooks, called at the end of each epoch by Loop.RunEpochs.
type OnEpochFn func(loop *Loop, stats EpochStats) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop, metrics []float64) error

// EpochStats are the aggregate results of one epoch run by Loop.RunEpochs.
type EpochStats struct {
	// Epoch number, starting from 0.
	Epoch int

	// Steps is the number of training steps (and optimizer updates) in the epoch.
	Steps int

	// TotalLoss is the sum of the batch losses in the epoch.
	TotalLoss float64

	// MeanLoss is TotalLoss / Steps, the "running loss" of the epoch.
	MeanLoss float64
}

// Loop will run a training loop, invoking Trainer.TrainStep every step,
// and calling the appropriate hooks.
//
// By itself it doesn't do much, but one can attach functionality to it, like
// evaluation, plotting tools, checkpointing, progress bars, etc.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// Trainer associated with this loop.
	Trainer *Trainer

	// LoopStep currently being executed.
	// It is initialized with the trainer's `GlobalStep`, which will be 0 for a new trainer.
	LoopStep int

	// StartStep is the value of LoopStep at the start of a run (RunSteps or RunEpochs).
	//
	// It is only set and valid during a run (Loop.RunSteps or Loop.RunEpochs).
	StartStep int

	// EndStep is one-past the last step to be executed. If -1 the end step is not known (if
	// running till the end of the dataset). When running for multiple epochs (Loop.RunEpochs) it can
	// change during the run (after the first epoch, the value is extrapolated based on how many steps
	// have been run so far).
	//
	// It is only set and valid during a run (Loop.RunSteps or Loop.RunEpochs).
	EndStep int

	// Epoch is set when running Loop.RunEpochs() to the current running epoch, starting from 0.
	Epoch int

	// SharedData allows for cross-tools to publish and consume information. Keys (strings)
	// and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// TrainStepDurations collected during training.
	TrainStepDurations []time.Duration

	// Registered hooks.
	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEpoch *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new training loop trainer.
func NewLoop(trainer *Trainer) *Loop {
	return &Loop{
		Trainer:    trainer,
		SharedData: make(map[string]any),
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpoch:    newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
		LoopStep:   int(trainer.GlobalStep()),
	}
}

// start of loop, called by all looping methods.
//
// It calls the appropriate hooks.
func (loop *Loop) start(ds Dataset) error {
	for hook := range loop.onStart.All() {
		err := hook.fn(loop, ds)
		if err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

// step of loop, called by all looping methods.
// It calls the appropriate hooks and returns an error if the train step fails (e.g. a NaN or infinite loss).
func (loop *Loop) step(inputs *tensors.Tensor, labels []int) (metrics []float64, err error) {
	startTime := time.Now()
	metrics, err = loop.Trainer.TrainStep(inputs, labels)
	loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(startTime))
	if err != nil {
		return nil, err
	}

	// Call "OnStep" hooks.
	for hook := range loop.onStep.All() {
		err := hook.fn(loop, metrics)
		if err != nil {
			return nil, errors.WithMessagef(err, "train.Loop.OnStep(hook %q)", hook.name)
		}
	}
	return metrics, nil
}

// epoch calls the OnEpoch hooks.
func (loop *Loop) epoch(stats EpochStats) error {
	for hook := range loop.onEpoch.All() {
		if err := hook.fn(loop, stats); err != nil {
			return errors.WithMessagef(err, "OnEpoch(hook %q)", hook.name)
		}
	}
	return nil
}

// end of loop, called by all looping methods.
// It calls the appropriate hooks.
func (loop *Loop) end(metrics []float64) error {
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop, metrics); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// RunSteps runs those many steps. StartStep and EndStep are adjusted to the current
// LoopStep, so it can be called multiple times, and it will simply pick up where it left of last time.
//
// The dataset must yield at least `steps` batches: reaching io.EOF before is an error.
//
// It returns the training metrics returned by the trainer after the last step.
func (loop *Loop) RunSteps(ds Dataset, steps int) (metrics []float64, err error) {
	if steps <= 0 {
		return nil, nil
	}
	loop.Trainer.ResetTrainMetrics()
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.LoopStep + steps
	if err = loop.start(ds); err != nil {
		return nil, err
	}
	loop.TrainStepDurations = make([]time.Duration, 0, steps)
	for loop.LoopStep = loop.StartStep; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		inputs, labels, err := ds.Yield()
		if err != nil {
			if err == io.EOF {
				return nil, errors.Errorf(
					"reached Dataset end after %d steps (requested %d steps) -- did you mean to use "+
						"Loop.RunEpochs() instead of Loop.RunSteps() ?",
					loop.LoopStep-loop.StartStep, steps)
			}
			return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed reading from Dataset", steps)
		}
		metrics, err = loop.step(inputs, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed TrainStep(LoopStep=%d)",
				steps, loop.LoopStep)
		}
	}
	if err = loop.end(metrics); err != nil {
		return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed end (LoopStep=%d)", steps, loop.LoopStep)
	}
	return metrics, nil
}

// RunEpochs runs the dataset for the given number of epochs, and returns the statistics of each epoch.
//
// StartStep is adjusted to the current LoopStep, so it can be called multiple times, and it will simply
// pick up where it left of last time.
// Loop.Epoch is set to the current running epoch. EndStep starts as -1 and will
// be adjusted to expectation after the first epoch, when one knows how many steps there are
// going to be.
// Dataset.Reset is called after each epoch (including the last).
//
// There is no early stopping: it either runs all the epochs or returns an error.
func (loop *Loop) RunEpochs(ds Dataset, epochs int) (stats []EpochStats, err error) {
	loop.Trainer.ResetTrainMetrics()
	loop.StartStep = loop.LoopStep
	loop.EndStep = -1
	loop.Epoch = 0
	if err = loop.start(ds); err != nil {
		return nil, err
	}

	loop.TrainStepDurations = nil
	var metrics []float64
	stats = make([]EpochStats, 0, epochs)
	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		epochStats := EpochStats{Epoch: loop.Epoch}
		// Loop over one epoch:
		for {
			inputs, labels, err := ds.Yield()
			if err != nil {
				if err == io.EOF {
					// End of epoch: estimate new last step (loop.EndStep).
					loop.EndStep = loop.LoopStep + epochStats.Steps*(epochs-loop.Epoch-1)
					break
				}
				return nil, errors.WithMessagef(err, "Loop.RunEpochs(epoch %d of %d): failed reading from Dataset",
					loop.Epoch, epochs)
			}
			metrics, err = loop.step(inputs, labels)
			if err != nil {
				return nil, errors.WithMessagef(err, "Loop.RunEpochs(epoch %d of %d): failed TrainStep(LoopStep=%d)",
					loop.Epoch, epochs, loop.LoopStep)
			}
			epochStats.Steps++
			epochStats.TotalLoss += metrics[0]
			loop.LoopStep++
		}
		ds.Reset()
		if epochStats.Steps == 0 {
			return nil, errors.Errorf("Loop.RunEpochs(epoch %d of %d): dataset %q yielded no batches",
				loop.Epoch, epochs, ds.Name())
		}
		epochStats.MeanLoss = epochStats.TotalLoss / float64(epochStats.Steps)
		stats = append(stats, epochStats)
		if err = loop.epoch(epochStats); err != nil {
			return nil, errors.WithMessagef(err, "Loop.RunEpochs(epoch %d of %d)", loop.Epoch, epochs)
		}
	}
	if err = loop.end(metrics); err != nil {
		return nil, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed end (LoopStep=%d)", epochs, loop.LoopStep)
	}
	return stats, nil
}

// MedianTrainStepDuration returns the median duration of each training step. It returns 1 millisecond
// if no training step was recorded (to avoid potential division by 0).
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting) to each step of a loop.
// The function `fn` is called after each `Trainer.TrainStep`.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpoch adds a hook with given priority and name (for error reporting) called at the end
// of each epoch by RunEpochs.
func (loop *Loop) OnEpoch(name string, priority Priority, fn OnEpochFn) {
	loop.onEpoch.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop,
// after the last call to `Trainer.TrainStep`.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{hooks: make(map[Priority][]H)}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all registered hooks in priority order, and in order of
// registration for the same priority.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
