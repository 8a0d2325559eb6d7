package artnet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OpenLightingProject/ola-sub002/rdm"
)

type fakeRDMSender struct {
	sent []sentFrame
	fail bool
}

type sentFrame struct {
	frame []byte
	dst   *net.UDPAddr
}

func (f *fakeRDMSender) SendRDM(universe Universe, frame []byte, dst *net.UDPAddr) error {
	if f.fail {
		return rdm.Timeout
	}
	f.sent = append(f.sent, sentFrame{frame: append([]byte(nil), frame...), dst: dst})
	return nil
}

var (
	ctlSrcUID = rdm.UID{Manufacturer: 1, Device: 1}
	ctlDstUID = rdm.UID{Manufacturer: 2, Device: 2}
)

// TestBroadcastRequestCompletesSynchronously is spec.md §8 scenario 5: a
// request addressed to the broadcast UID completes immediately with
// rdm.WasBroadcast and never arms a timeout.
func TestBroadcastRequestCompletesSynchronously(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	universe := NewUniverse(0, 0, 1)

	req := rdm.NewSetRequest(ctlSrcUID, rdm.AllDevices, 0, 0x0001, nil)

	var status rdm.StatusCode
	var called bool
	err := c.SendRequest(universe, req, func(resp rdm.Response, s rdm.StatusCode) {
		called = true
		status = s
	})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, rdm.WasBroadcast, status)
	require.False(t, c.Busy(universe))
	require.Len(t, sender.sent, 1)
}

func TestRequestResponseCorrelation(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	universe := NewUniverse(0, 0, 1)

	req := rdm.NewGetRequest(ctlSrcUID, ctlDstUID, 0, 0x0060, nil)

	var gotStatus rdm.StatusCode
	done := make(chan struct{})
	err := c.SendRequest(universe, req, func(resp rdm.Response, s rdm.StatusCode) {
		gotStatus = s
		close(done)
	})
	require.NoError(t, err)
	require.True(t, c.Busy(universe))

	resp := rdm.Response{
		Header: rdm.Header{
			DestinationUID: ctlSrcUID,
			SourceUID:      ctlDstUID,
			CommandClass:   rdm.GetCommandResponse,
			ParameterID:    0x0060,
		},
		ResponseType: rdm.ResponseAck,
	}
	frame, status := rdm.SerializeResponse(resp)
	require.Equal(t, rdm.OK, status)

	// ArtRDM strips the leading start code before wrapping the frame.
	pkt := &RdmPacket{Data: frame[1:]}
	c.HandleRDMPacket(universe, pkt)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	require.Equal(t, rdm.OK, gotStatus)
	require.False(t, c.Busy(universe))
}

func TestSecondRequestRejectedWhileBusy(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	universe := NewUniverse(0, 0, 1)

	req := rdm.NewGetRequest(ctlSrcUID, ctlDstUID, 0, 0x0060, nil)
	require.NoError(t, c.SendRequest(universe, req, func(rdm.Response, rdm.StatusCode) {}))

	var status rdm.StatusCode
	require.NoError(t, c.SendRequest(universe, req, func(resp rdm.Response, s rdm.StatusCode) {
		status = s
	}))
	require.Equal(t, rdm.FailedToSend, status)
}

func TestRequestTimesOut(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	c.SetTimeout(10 * time.Millisecond)
	universe := NewUniverse(0, 0, 1)

	req := rdm.NewGetRequest(ctlSrcUID, ctlDstUID, 0, 0x0060, nil)
	done := make(chan struct{})
	var status rdm.StatusCode
	require.NoError(t, c.SendRequest(universe, req, func(resp rdm.Response, s rdm.StatusCode) {
		status = s
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
	require.Equal(t, rdm.Timeout, status)
}

// TestMismatchedResponseDropsSilently is spec.md §4.3.5 "Receive
// correlation": a response that fails cross-validation (wrong
// transaction number here) must not complete the pending transaction,
// leaving it alive for the real response or the timeout.
func TestMismatchedResponseDropsSilently(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	c.SetTimeout(50 * time.Millisecond)
	universe := NewUniverse(0, 0, 1)

	req := rdm.NewGetRequest(ctlSrcUID, ctlDstUID, 0, 0x0060, nil)
	done := make(chan struct{})
	var status rdm.StatusCode
	require.NoError(t, c.SendRequest(universe, req, func(resp rdm.Response, s rdm.StatusCode) {
		status = s
		close(done)
	}))

	resp := rdm.Response{
		Header: rdm.Header{
			DestinationUID:    ctlSrcUID,
			SourceUID:         ctlDstUID,
			TransactionNumber: req.TransactionNumber + 1, // mismatched
			CommandClass:      rdm.GetCommandResponse,
			ParameterID:       0x0060,
		},
		ResponseType: rdm.ResponseAck,
	}
	frame, serStatus := rdm.SerializeResponse(resp)
	require.Equal(t, rdm.OK, serStatus)

	c.HandleRDMPacket(universe, &RdmPacket{Data: frame[1:]})

	// Still pending: the mismatched packet must be dropped, not complete
	// the transaction.
	require.True(t, c.Busy(universe))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
	require.Equal(t, rdm.Timeout, status)
}

// TestDiscoverCommandRejected is spec.md §4.3.5: RDM discovery is
// handled by the Art-Net TOD protocol, not by sending a DISCOVER-class
// command over ArtRDM.
func TestDiscoverCommandRejected(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	universe := NewUniverse(0, 0, 1)

	req := rdm.Request{Header: rdm.Header{CommandClass: rdm.DiscoverCommand}}

	var status rdm.StatusCode
	require.NoError(t, c.SendRequest(universe, req, func(resp rdm.Response, s rdm.StatusCode) {
		status = s
	}))
	require.Equal(t, rdm.PluginDiscoveryNotSupported, status)
	require.Empty(t, sender.sent)
	require.False(t, c.Busy(universe))
}

// TestSendRequestUnicastsToKnownUID is spec.md §4.3.5's send-path UID
// map lookup: once discovery has reported a UID's Art-Net node IP, a
// request addressed to it is unicast there instead of broadcast.
func TestSendRequestUnicastsToKnownUID(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	universe := NewUniverse(0, 0, 1)

	port := NewOutputPort(universe)
	nodeIP := [4]byte{10, 0, 0, 5}
	port.MergeTod([]rdm.UID{ctlDstUID}, nodeIP, 3)
	c.RegisterPort(universe, port)

	req := rdm.NewGetRequest(ctlSrcUID, ctlDstUID, 0, 0x0060, nil)
	require.NoError(t, c.SendRequest(universe, req, func(rdm.Response, rdm.StatusCode) {}))

	require.Len(t, sender.sent, 1)
	require.NotNil(t, sender.sent[0].dst)
	require.True(t, net.IP(nodeIP[:]).Equal(sender.sent[0].dst.IP))
}

// TestSendRequestBroadcastsToUnknownUID covers the fallback: a
// destination UID absent from the port's table still gets the request
// sent, but broadcast (nil dst) rather than failing.
func TestSendRequestBroadcastsToUnknownUID(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	universe := NewUniverse(0, 0, 1)
	c.RegisterPort(universe, NewOutputPort(universe))

	req := rdm.NewGetRequest(ctlSrcUID, ctlDstUID, 0, 0x0060, nil)
	require.NoError(t, c.SendRequest(universe, req, func(rdm.Response, rdm.StatusCode) {}))

	require.Len(t, sender.sent, 1)
	require.Nil(t, sender.sent[0].dst)
}

// TestCancelAllFailsInFlightRequest is spec.md §5's shutdown behavior:
// Stop must synchronously fail every pending RDM callback with
// rdm.Timeout rather than let it fire later from its own timer (or
// never, once the socket is closed).
func TestCancelAllFailsInFlightRequest(t *testing.T) {
	sender := &fakeRDMSender{}
	c := NewRDMControl(sender)
	c.SetTimeout(time.Hour)
	universe := NewUniverse(0, 0, 1)

	req := rdm.NewGetRequest(ctlSrcUID, ctlDstUID, 0, 0x0060, nil)
	var status rdm.StatusCode
	done := make(chan struct{})
	require.NoError(t, c.SendRequest(universe, req, func(resp rdm.Response, s rdm.StatusCode) {
		status = s
		close(done)
	}))
	require.True(t, c.Busy(universe))

	c.CancelAll()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancel callback never fired")
	}
	require.Equal(t, rdm.Timeout, status)
	require.False(t, c.Busy(universe))
}
