// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/arvados/ldqc/rss"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/mat"
)

// eigenCache holds eigendecompositions of recently seen LD matrices,
// keyed by a hash of the matrix content. Cohorts that share an LD
// reference panel are decomposed once.
type eigenCache struct {
	MaxEntries int // 0 means no caching

	mtx     sync.Mutex
	entries map[string]*rss.Spectrum
	order   []string
	group   singleflight.Group
	hits    int64
	misses  int64
}

func ldKey(r mat.Symmetric) string {
	h, _ := blake2b.New256(nil)
	p := r.Symmetric()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p))
	h.Write(buf[:])
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(r.At(i, j)))
			h.Write(buf[:])
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the eigendecomposition of r, computing it if necessary.
// Concurrent calls for the same matrix share one computation. The
// returned Spectrum must not be modified.
func (ec *eigenCache) Get(r mat.Symmetric) (*rss.Spectrum, error) {
	if ec.MaxEntries < 1 {
		atomic.AddInt64(&ec.misses, 1)
		return rss.Eigen(r)
	}
	key := ldKey(r)
	ec.mtx.Lock()
	sp, ok := ec.entries[key]
	ec.mtx.Unlock()
	if ok {
		atomic.AddInt64(&ec.hits, 1)
		return sp, nil
	}
	computed := false
	v, err, _ := ec.group.Do(key, func() (interface{}, error) {
		ec.mtx.Lock()
		sp, ok := ec.entries[key]
		ec.mtx.Unlock()
		if ok {
			return sp, nil
		}
		computed = true
		sp, err := rss.Eigen(r)
		if err != nil {
			return nil, err
		}
		ec.store(key, sp)
		return sp, nil
	})
	if computed {
		atomic.AddInt64(&ec.misses, 1)
	} else {
		atomic.AddInt64(&ec.hits, 1)
	}
	if err != nil {
		return nil, err
	}
	return v.(*rss.Spectrum), nil
}

func (ec *eigenCache) store(key string, sp *rss.Spectrum) {
	ec.mtx.Lock()
	defer ec.mtx.Unlock()
	if ec.entries == nil {
		ec.entries = map[string]*rss.Spectrum{}
	}
	ec.entries[key] = sp
	ec.order = append(ec.order, key)
	for len(ec.order) > ec.MaxEntries {
		delete(ec.entries, ec.order[0])
		ec.order = ec.order[1:]
	}
}

// Stats returns the number of cache hits and misses so far.
func (ec *eigenCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&ec.hits), atomic.LoadInt64(&ec.misses)
}
