/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package eventsignal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalWaitRoundTrip(t *testing.T) {
	s, err := Create()
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.Wait(5 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Signal())

	ok, err = s.Wait(50 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignalCoalescesMultiple(t *testing.T) {
	s, err := Create()
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Signal())
	}

	ok, err := s.Wait(50 * time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Wait(5 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok, "coalesced signals must wake exactly once")
}

func TestSignalAcrossGoroutines(t *testing.T) {
	s, err := Create()
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(1)

	woke := false
	go func() {
		defer wg.Done()
		ok, err := s.Wait(500 * time.Millisecond)
		require.NoError(t, err)
		woke = ok
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Signal())
	wg.Wait()
	require.True(t, woke)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Create()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
