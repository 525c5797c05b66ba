package candidates

import (
	"fmt"
	"sync"
	"testing"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func host(port int) jingle.Candidate {
	return jingle.Candidate{Component: 1, Foundation: "1", IP: "10.0.0.1", Port: port, Protocol: "udp", Type: jingle.CandidateHost}
}

func TestLocalQueueAndDurableSet(t *testing.T) {
	m := NewManager()

	require.True(t, m.AddLocal("audio", host(5000)))
	require.True(t, m.AddLocal("video", host(5002)))
	require.True(t, m.AddLocal("audio", host(5004)))
	assert.False(t, m.AddLocal("audio", host(5000)), "дубликат не добавляется")

	assert.Equal(t, 3, m.PendingLocal())
	assert.Equal(t, []string{"audio", "video"}, m.LocalNames())

	batch := m.DrainLocal()
	assert.Len(t, batch["audio"], 2)
	assert.Len(t, batch["video"], 1)

	assert.Zero(t, m.PendingLocal(), "очередь пуста после выгрузки")
	assert.Empty(t, m.DrainLocal())
	assert.Len(t, m.Local("audio"), 2, "постоянный набор сохраняется")

	require.True(t, m.AddLocal("audio", host(5006)))
	batch = m.DrainLocal()
	assert.Equal(t, []jingle.Candidate{host(5006)}, batch["audio"])
	assert.Len(t, m.Local("audio"), 3)
}

func TestRemoteQueue(t *testing.T) {
	m := NewManager()
	require.True(t, m.AddRemote("audio", host(6000)))
	assert.False(t, m.AddRemote("audio", host(6000)))
	require.True(t, m.AddRemote("audio", host(6002)))

	queued := m.DrainRemote()
	assert.Len(t, queued["audio"], 2)
	assert.Empty(t, m.DrainRemote())
	assert.Len(t, m.Remote("audio"), 2)

	m.Reset()
	assert.Empty(t, m.Remote("audio"))
	assert.True(t, m.AddRemote("audio", host(6000)), "после сброса кандидат снова принимается")
}

func TestDuplicateIgnoresType(t *testing.T) {
	m := NewManager()
	require.True(t, m.AddRemote("audio", host(6000)))

	srflx := host(6000)
	srflx.Type = jingle.CandidateSrflx
	assert.False(t, m.AddRemote("audio", srflx), "тип не входит в ключ дедупликации")

	tcp := host(6000)
	tcp.Protocol = "tcp"
	assert.True(t, m.AddRemote("audio", tcp))
	assert.Len(t, m.Remote("audio"), 2)
}

func TestConcurrentAdd(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.AddLocal(fmt.Sprintf("c%d", worker%2), host(10000+worker*100+j))
			}
		}(i)
	}

	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			for _, list := range m.DrainLocal() {
				drained += len(list)
			}
			assert.Equal(t, 400, drained, "каждый кандидат выгружается ровно один раз")
			assert.Len(t, m.Local("c0"), 200)
			return
		default:
			for _, list := range m.DrainLocal() {
				drained += len(list)
			}
		}
	}
}
