// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bufiox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWriterWriteBinaryThenFlush(t *testing.T) {
	var out bytes.Buffer
	w := NewDefaultWriter(&out)

	n, err := w.WriteBinary([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = w.WriteBinary([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 11, w.WrittenLen())

	require.NoError(t, w.Flush())
	assert.Equal(t, "hello world", out.String())
	assert.Equal(t, 0, w.WrittenLen())
}

func TestDefaultWriterMallocReturnsWritableSlice(t *testing.T) {
	var out bytes.Buffer
	w := NewDefaultWriter(&out)

	buf, err := w.Malloc(3)
	require.NoError(t, err)
	copy(buf, "abc")

	require.NoError(t, w.Flush())
	assert.Equal(t, "abc", out.String())
}

func TestDefaultWriterMallocRejectsNegativeLength(t *testing.T) {
	w := NewDefaultWriter(&bytes.Buffer{})
	_, err := w.Malloc(-1)
	assert.ErrorIs(t, err, errNegativeCount)
}

func TestDefaultWriterLargeWriteBypassesChunkCopy(t *testing.T) {
	var out bytes.Buffer
	w := NewDefaultWriter(&out)

	big := bytes.Repeat([]byte("x"), nocopyWriteThreshold+1)
	n, err := w.WriteBinary(big)
	require.NoError(t, err)
	assert.Equal(t, len(big), n)

	require.NoError(t, w.Flush())
	assert.Equal(t, big, out.Bytes())
}

func TestDefaultWriterFlushIsIdempotentOnEmptyBuffer(t *testing.T) {
	var out bytes.Buffer
	w := NewDefaultWriter(&out)
	require.NoError(t, w.Flush())
	assert.Empty(t, out.String())
}
