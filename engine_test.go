package voipcore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/voipstack/corevoip/sdpneg"
	"github.com/voipstack/corevoip/sip"
)

func testCodecPreferences() []sdpneg.CodecCapability {
	return []sdpneg.CodecCapability{
		{PayloadType: 0, Name: "PCMU", ClockRate: 8000},
	}
}

func TestNewEngineRejectsEmptyCodecPreferences(t *testing.T) {
	_, err := NewEngine(Config{Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestNewEngineBuildsStack(t *testing.T) {
	e, err := NewEngine(Config{
		CodecPreferences: testCodecPreferences(),
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NotNil(t, e.ua)
	require.NotNil(t, e.server)
	require.NotNil(t, e.dua)
	require.NotNil(t, e.mediaCtl)
	require.Equal(t, 0, e.admission.InUse())
}

func TestEngineListenAndServeRequiresListenAddresses(t *testing.T) {
	e, err := NewEngine(Config{
		CodecPreferences: testCodecPreferences(),
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)

	err = e.ListenAndServe(context.Background())
	require.Error(t, err)
}

func TestCallHandleGetCallMediaInfoWithoutMediaSession(t *testing.T) {
	ch := &CallHandle{ID: "unattached"}
	info := ch.GetCallMediaInfo()
	require.False(t, info.HasMedia)
}

func TestCallHandleWaitAnswerRequiresClientSession(t *testing.T) {
	ch := &CallHandle{ID: "inbound-only"}
	err := ch.WaitAnswer(context.Background(), AnswerOptions{})
	require.Error(t, err)
}

func TestCallHandleAnswerCallRequiresServerSession(t *testing.T) {
	ch := &CallHandle{ID: "outbound-only"}
	err := ch.AnswerCall(true, sip.StatusOK, "OK", testCodecPreferences())
	require.Error(t, err)
}

func TestEngineLookupDialogUnmatchedReturnsError(t *testing.T) {
	e, err := NewEngine(Config{
		CodecPreferences: testCodecPreferences(),
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)

	req := sip.NewRequest(sip.BYE, uriFor(t, "sip:bob@example.com"))

	_, err = e.lookupDialog(req)
	require.Error(t, err)
}

// TestIntegrationEngineCallFlow drives a full start_call/answer_call/hangup
// round trip between two Engines over real UDP sockets, matching
// dialog_integration_test.go's TEST_INTEGRATION gating convention.
func TestIntegrationEngineCallFlow(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Use TEST_INTEGRATION env value to run this test")
		return
	}

	calleeAddr := "127.0.0.201:5099"

	callee, err := NewEngine(Config{
		ListenAddresses:    []ListenAddress{{Network: "udp", Addr: calleeAddr}},
		UserAgentName:      "callee",
		CodecPreferences:   testCodecPreferences(),
		MaxConcurrentCalls: 1,
		RTPPortMin:         30000,
		RTPPortMax:         30100,
		Logger:             zerolog.Nop(),
	})
	require.NoError(t, err)

	established := make(chan *CallHandle, 1)
	callee.OnIncomingCall(func(ch *CallHandle) {
		err := ch.AnswerCall(true, sip.StatusOK, "OK", nil)
		require.NoError(t, err)
		established <- ch
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go callee.ListenAndServe(ctx)
	time.Sleep(50 * time.Millisecond)

	caller, err := NewEngine(Config{
		UserAgentName:      "caller",
		CodecPreferences:   testCodecPreferences(),
		MaxConcurrentCalls: 1,
		RTPPortMin:         30100,
		RTPPortMax:         30200,
		Logger:             zerolog.Nop(),
	})
	require.NoError(t, err)

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	ch, err := caller.StartCall(callCtx, uriFor(t, "sip:bob@"+calleeAddr), nil)
	require.NoError(t, err)

	require.NoError(t, ch.WaitAnswer(callCtx, AnswerOptions{}))

	select {
	case calleeCh := <-established:
		require.NotNil(t, calleeCh)
	case <-time.After(2 * time.Second):
		t.Fatal("callee never answered")
	}

	require.NoError(t, ch.Hangup(callCtx))
}
