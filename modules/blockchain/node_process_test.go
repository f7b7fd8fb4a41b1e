package blockchain

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/GoCodeAlone/dappkit/modules/procs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nodeHarness runs NodeProcess in-process over pipes; parent plays the
// launcher side.
type nodeHarness struct {
	parent *procs.Child
	result chan error
}

func startNodeProcess(t *testing.T) *nodeHarness {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")

	toNode, fromParent := io.Pipe()
	toParent, fromNode := io.Pipe()
	t.Cleanup(func() {
		_ = fromParent.Close()
		_ = fromNode.Close()
	})

	node := &NodeProcess{
		Child:  procs.NewChild("node", toNode, fromNode),
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
	h := &nodeHarness{
		parent: procs.NewChild("launcher", toParent, fromParent),
		result: make(chan error, 1),
	}
	go func() { h.result <- node.Run(context.Background()) }()
	return h
}

func (h *nodeHarness) send(t *testing.T, action string, payload any) {
	t.Helper()
	m, err := procs.NewMessage(action, payload)
	require.NoError(t, err)
	require.NoError(t, h.parent.Send(m))
}

func (h *nodeHarness) next(t *testing.T) procs.Message {
	t.Helper()
	got := make(chan procs.Message, 1)
	go func() {
		m, err := h.parent.Receive()
		if err == nil {
			got <- m
		}
	}()
	select {
	case m := <-got:
		return m
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for node result")
		return procs.Message{}
	}
}

func TestNodeProcess_ReadyThenExitRequest(t *testing.T) {
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer rpc.Close()

	h := startNodeProcess(t)
	h.send(t, procs.ActionInit, NodeInit{
		Client:       os.Args[0],
		ClientArgs:   helperArgs("sleeper"),
		RPCURL:       rpc.URL,
		PollInterval: 10 * time.Millisecond,
	})

	m := h.next(t)
	assert.Equal(t, procs.ResultReady, m.Result)
	assert.NoError(t, m.Error())

	h.send(t, procs.ActionExit, nil)
	m = h.next(t)
	assert.Equal(t, procs.ResultExit, m.Result)
	assert.NoError(t, m.Error())
	assert.NoError(t, <-h.result)
}

func TestNodeProcess_ClientExitIsReported(t *testing.T) {
	h := startNodeProcess(t)
	h.send(t, procs.ActionInit, NodeInit{
		Client:       os.Args[0],
		ClientArgs:   helperArgs("quick-exit"),
		RPCURL:       "http://127.0.0.1:1",
		PollInterval: 10 * time.Millisecond,
	})

	m := h.next(t)
	assert.Equal(t, procs.ResultExit, m.Result)
	assert.Error(t, m.Error())
	assert.NoError(t, <-h.result)
}

func TestNodeProcess_MissingClient(t *testing.T) {
	h := startNodeProcess(t)
	h.send(t, procs.ActionInit, NodeInit{})

	m := h.next(t)
	assert.Equal(t, procs.ResultExit, m.Result)
	assert.EqualError(t, m.Error(), ErrNoClient.Error())
	assert.ErrorIs(t, <-h.result, ErrNoClient)
}
