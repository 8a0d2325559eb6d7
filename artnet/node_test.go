package artnet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := New(Options{ListenAddr: "127.0.0.1:0", ShortName: "test-node"})
	require.NoError(t, err)
	t.Cleanup(func() { n.conn.Close() })
	return n
}

func TestBuildPollReplyReflectsRegisteredPorts(t *testing.T) {
	n := newTestNode(t)
	n.AddOutputPort(NewUniverse(0, 0, 1))
	n.AddInputPort(NewUniverse(0, 0, 2), MergeHTP, func(Universe, []byte) {})

	reply := n.buildPollReply()
	require.EqualValues(t, 2, reply.NumPorts)
	require.EqualValues(t, 0xD0, reply.Status1)
	require.EqualValues(t, PortTypeOutput, reply.PortTypes[0]&PortTypeOutput)
}

func TestAddOutputPortRegistersRDMQueueAndDiscovery(t *testing.T) {
	n := newTestNode(t)
	universe := NewUniverse(0, 0, 1)
	n.AddOutputPort(universe)

	n.mu.RLock()
	_, hasQueue := n.rdmQueues[universe]
	n.mu.RUnlock()
	require.True(t, hasQueue)

	require.Equal(t, DiscoveryIdle, n.Discovery().Status(universe))
}

func TestOutputPortLookup(t *testing.T) {
	n := newTestNode(t)
	universe := NewUniverse(0, 0, 5)
	_, ok := n.OutputPort(universe)
	require.False(t, ok)

	n.AddOutputPort(universe)
	port, ok := n.OutputPort(universe)
	require.True(t, ok)
	require.NotNil(t, port)
}

func TestConfigurationModeDefersPollReplies(t *testing.T) {
	n := newTestNode(t)

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer client.Close()
	clientAddr := client.LocalAddr().(*net.UDPAddr)

	n.EnterConfigurationMode()
	n.handlePoll(clientAddr, &PollPacket{})

	n.mu.Lock()
	pendingCount := len(n.pendingPolls)
	n.mu.Unlock()
	require.Equal(t, 1, pendingCount)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	buf := make([]byte, 256)
	_, _, err = client.ReadFromUDP(buf)
	require.Error(t, err, "no reply should have been sent while in configuration mode")

	n.ExitConfigurationMode()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	nRead, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)
	pkt, err := ParsePacket(buf[:nRead])
	require.NoError(t, err)
	require.Equal(t, uint16(OpPollReply), pkt.Opcode)
}

func TestHandleDMXDispatchesToRegisteredInputPort(t *testing.T) {
	n := newTestNode(t)
	universe := NewUniverse(0, 0, 1)

	var got []byte
	done := make(chan struct{})
	n.AddInputPort(universe, MergeHTP, func(u Universe, data []byte) {
		got = append([]byte(nil), data...)
		close(done)
	})

	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9)}
	n.handleDMX(src, &DMXPacket{Universe: universe, Data: []byte{9, 8, 7}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("update callback never fired")
	}
	require.Equal(t, []byte{9, 8, 7}, got[:3])
}
