package relay

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogTraffic(t *testing.T) {
	s := newSession(t, nil)
	out := &syncBuffer{}
	stop := LogTraffic(s.b, log.New(out, "", 0))

	require.NoError(t, s.a.Broadcast(TypeDragStart, DragPayload{ItemID: "1"}))
	assert.Contains(t, out.String(), `dragStart from A: {"itemId":"1"`)

	stop()
	before := out.String()
	require.NoError(t, s.a.Broadcast(TypeDragEnd, nil))
	assert.Equal(t, before, out.String())
	assert.Equal(t, 1, strings.Count(before, "\n"))
}
