// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"sync"
	"sync/atomic"
)

// throttle limits the number of concurrently running tasks to Max,
// and remembers the first error reported by any of them.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan bool
	err       atomic.Value
	setupOnce sync.Once
	errorOnce sync.Once
}

func (t *throttle) Acquire() {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = 1
		}
		t.ch = make(chan bool, t.Max)
	})
	t.wg.Add(1)
	t.ch <- true
}

func (t *throttle) Release() {
	t.wg.Done()
	<-t.ch
}

func (t *throttle) Report(err error) {
	if err != nil {
		t.errorOnce.Do(func() { t.err.Store(err) })
	}
}

func (t *throttle) Err() error {
	err, _ := t.err.Load().(error)
	return err
}

// Go waits for a free slot, then calls f in a new goroutine and
// reports its error.
func (t *throttle) Go(f func() error) {
	t.Acquire()
	go func() {
		defer t.Release()
		t.Report(f())
	}()
}

func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
