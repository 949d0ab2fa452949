// Copyright 2023 The Cuber Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package limiter throttles the embedded-file data path: per-direction
// concurrency caps plus byte-rate limits. Zero-valued knobs disable the
// corresponding limit.
package limiter

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/time/rate"
)

var ErrLimitExceeded = errors.New("limit exceeded")

type Config struct {
	ReadConcurrency  int `json:"read_concurrency"`
	WriteConcurrency int `json:"write_concurrency"`
	ReadMBPS         int `json:"read_mbps"`
	WriteMBPS        int `json:"write_mbps"`
}

type Status struct {
	Config       Config
	ReadRunning  int
	WriteRunning int
}

type Limiter struct {
	config     Config
	readCount  *countLimit
	writeCount *countLimit
	rateReader *rate.Limiter
	rateWriter *rate.Limiter
}

func New(cfg Config) *Limiter {
	const mb = 1 << 20
	lim := &Limiter{config: cfg}
	if cfg.ReadConcurrency > 0 {
		lim.readCount = newCountLimit(cfg.ReadConcurrency)
	}
	if cfg.WriteConcurrency > 0 {
		lim.writeCount = newCountLimit(cfg.WriteConcurrency)
	}
	if cfg.ReadMBPS > 0 {
		lim.rateReader = rate.NewLimiter(rate.Limit(cfg.ReadMBPS*mb), cfg.ReadMBPS*mb)
	}
	if cfg.WriteMBPS > 0 {
		lim.rateWriter = rate.NewLimiter(rate.Limit(cfg.WriteMBPS*mb), cfg.WriteMBPS*mb)
	}
	return lim
}

func (lim *Limiter) AcquireRead() error {
	if lim.readCount != nil {
		return lim.readCount.acquire()
	}
	return nil
}

func (lim *Limiter) ReleaseRead() {
	if lim.readCount != nil {
		lim.readCount.release()
	}
}

func (lim *Limiter) AcquireWrite() error {
	if lim.writeCount != nil {
		return lim.writeCount.acquire()
	}
	return nil
}

func (lim *Limiter) ReleaseWrite() {
	if lim.writeCount != nil {
		lim.writeCount.release()
	}
}

// WaitRead blocks until n read bytes fit the configured rate.
func (lim *Limiter) WaitRead(ctx context.Context, n int) error {
	if lim.rateReader == nil || n <= 0 {
		return nil
	}
	return lim.rateReader.WaitN(ctx, n)
}

// WaitWrite blocks until n written bytes fit the configured rate.
func (lim *Limiter) WaitWrite(ctx context.Context, n int) error {
	if lim.rateWriter == nil || n <= 0 {
		return nil
	}
	return lim.rateWriter.WaitN(ctx, n)
}

func (lim *Limiter) Status() Status {
	st := Status{Config: lim.config}
	if lim.readCount != nil {
		st.ReadRunning = lim.readCount.running()
	}
	if lim.writeCount != nil {
		st.WriteRunning = lim.writeCount.running()
	}
	return st
}

const minusOne = ^uint32(0)

type countLimit struct {
	limit   uint32
	current uint32
}

func newCountLimit(n int) *countLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) acquire() error {
	if atomic.AddUint32(&l.current, 1) > atomic.LoadUint32(&l.limit) {
		atomic.AddUint32(&l.current, minusOne)
		return ErrLimitExceeded
	}
	return nil
}

func (l *countLimit) release() {
	atomic.AddUint32(&l.current, minusOne)
}
