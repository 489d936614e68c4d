// SPDX-License-Identifier: Apache-2.0

package trafficlog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppendOrderPreserved(t *testing.T) {
	l := New()
	base := time.Now()

	l.Append(RequestCycle{TimestampIn: base, TimestampOut: base.Add(1 * time.Millisecond)})
	l.Append(RequestCycle{TimestampIn: base, TimestampOut: base.Add(2 * time.Millisecond)})

	snap := l.Snapshot()
	if assert.Len(t, snap, 2) {
		assert.True(t, !snap[1].TimestampOut.Before(snap[0].TimestampOut))
	}
}

func TestSnapshotIsAClone(t *testing.T) {
	l := New()
	l.Append(RequestCycle{RequestHead: Head{Method: "GET"}})

	snap := l.Snapshot()
	snap[0].RequestHead.Method = "POST"

	again := l.Snapshot()
	assert.Equal(t, "GET", again[0].RequestHead.Method)
}

func TestConcurrentAppend(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(RequestCycle{TimestampIn: time.Now()})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}
