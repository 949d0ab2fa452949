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

package limiter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountLimits(t *testing.T) {
	lim := New(Config{ReadConcurrency: 2})

	require.NoError(t, lim.AcquireRead())
	require.NoError(t, lim.AcquireRead())
	require.Equal(t, ErrLimitExceeded, lim.AcquireRead())
	require.Equal(t, 2, lim.Status().ReadRunning)

	lim.ReleaseRead()
	require.NoError(t, lim.AcquireRead())

	// writes are unlimited in this config
	for i := 0; i < 10; i++ {
		require.NoError(t, lim.AcquireWrite())
	}
}

func TestRateWait(t *testing.T) {
	ctx := context.TODO()
	lim := New(Config{ReadMBPS: 1})

	// within burst, WaitRead returns immediately
	require.NoError(t, lim.WaitRead(ctx, 1024))
	require.NoError(t, lim.WaitRead(ctx, 0))

	// unlimited direction never blocks
	require.NoError(t, lim.WaitWrite(ctx, 1<<30))
}

func TestDisabledLimiter(t *testing.T) {
	lim := New(Config{})
	require.NoError(t, lim.AcquireRead())
	require.NoError(t, lim.AcquireWrite())
	lim.ReleaseRead()
	lim.ReleaseWrite()
	require.Zero(t, lim.Status().ReadRunning)
}
