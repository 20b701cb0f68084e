/*
 * Copyright 2024 CloudWeGo Authors
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

package hack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteSliceToString(t *testing.T) {
	b := []byte("gain_db")
	assert.Equal(t, "gain_db", ByteSliceToString(b))
}

func TestStringToByteSlice(t *testing.T) {
	s := "noise_floor"
	b := StringToByteSlice(s)
	assert.Equal(t, []byte(s), b)
	assert.Equal(t, len(s), len(b))
}

func TestRoundTrip(t *testing.T) {
	s := "karaoke.pitch_shift"
	assert.Equal(t, s, ByteSliceToString(StringToByteSlice(s)))
}
