// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"context"
	"flag"
	"fmt"
	"sync"
)

// batchArgs splits the locus groups of one run across several
// containers.
type batchArgs struct {
	batch   int
	batches int
}

func (b *batchArgs) Flags(flags *flag.FlagSet) {
	flags.IntVar(&b.batches, "batches", 1, "number of batches")
	flags.IntVar(&b.batch, "batch", -1, "only do `N`th batch (-1 = all)")
}

func (b *batchArgs) check() error {
	if b.batches < 1 {
		return fmt.Errorf("%w: -batches must be at least 1", errUsage)
	}
	if b.batch >= b.batches {
		return fmt.Errorf("%w: -batch=%d is out of range for -batches=%d", errUsage, b.batch, b.batches)
	}
	return nil
}

func (b *batchArgs) Args(batch int) []string {
	return []string{
		fmt.Sprintf("-batches=%d", b.batches),
		fmt.Sprintf("-batch=%d", batch),
	}
}

// RunBatches calls runFunc once per batch, and returns a slice of
// return values and the first returned error, if any.
func (b *batchArgs) RunBatches(ctx context.Context, runFunc func(context.Context, int) (string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outputs := make([]string, b.batches)
	var wg WaitGroup
	for batch := 0; batch < b.batches; batch++ {
		if b.batch >= 0 && b.batch != batch {
			continue
		}
		batch := batch
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := runFunc(ctx, batch)
			outputs[batch] = out
			if err != nil {
				wg.Error(err)
				cancel()
			}
		}()
	}
	err := wg.Wait()
	if b.batch >= 0 {
		outputs = outputs[b.batch : b.batch+1]
	}
	return outputs, err
}

// Groups groups the loci table by locus ID and returns the groups
// assigned to the selected batch, in table order. Groups are assigned
// to batches in contiguous runs holding about the same number of
// cohorts, so every container computes the same assignment.
func (b *batchArgs) Groups(rows []lociTableRow) ([]string, map[string][]lociTableRow) {
	batches := b.batches
	if batches < 1 {
		batches = 1
	}
	var ids []string
	byID := map[string][]lociTableRow{}
	before := 0
	for _, g := range groupLoci(rows) {
		batch := before * batches / len(rows)
		before += len(g)
		if b.batch >= 0 && batch != b.batch {
			continue
		}
		ids = append(ids, g[0].LocusID)
		byID[g[0].LocusID] = g
	}
	return ids, byID
}

// WaitGroup is a sync.WaitGroup that also remembers the first error
// passed to Error.
type WaitGroup struct {
	sync.WaitGroup
	err     error
	errOnce sync.Once
}

func (wg *WaitGroup) Error(err error) {
	if err != nil {
		wg.errOnce.Do(func() { wg.err = err })
	}
}

func (wg *WaitGroup) Wait() error {
	wg.WaitGroup.Wait()
	return wg.err
}
