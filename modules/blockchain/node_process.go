package blockchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/procs"
)

// clientStopGrace is how long the client gets to exit after an interrupt.
const clientStopGrace = 5 * time.Second

// NodeProcess is the subordinate side of the supervisor: it runs the client
// and reports on it through a procs.Child.
type NodeProcess struct {
	Child  *procs.Child
	Logger dappkit.Logger
	// Stdout and Stderr receive the client's output; they default to the
	// node process's own, which the launcher relays.
	Stdout io.Writer
	Stderr io.Writer
	// HTTPClient is used for availability checks.
	HTTPClient *http.Client
}

// Run serves the node protocol until the client exits, an exit request is
// handled, or the launcher closes the channel.
func (n *NodeProcess) Run(ctx context.Context) error {
	n.setDefaults()

	messages := make(chan procs.Message)
	streamErr := make(chan error, 1)
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		for {
			m, err := n.Child.Receive()
			if errors.Is(err, procs.ErrMalformedMessage) {
				n.Logger.Warn("Dropping launcher message", "error", err)
				continue
			}
			if err != nil {
				streamErr <- err
				return
			}
			select {
			case messages <- m:
			case <-finished:
				return
			}
		}
	}()

	var nodeCfg NodeInit
	select {
	case m := <-messages:
		if m.Action != procs.ActionInit {
			return fmt.Errorf("%w: got %s", ErrNodeInitMissing, m.Action)
		}
		if err := m.Decode(&nodeCfg); err != nil {
			return fmt.Errorf("decode node init: %w", err)
		}
	case err := <-streamErr:
		return fmt.Errorf("%w: %w", ErrNodeInitMissing, err)
	case <-ctx.Done():
		return ctx.Err()
	}

	if nodeCfg.Client == "" {
		_ = n.Child.Report(procs.ResultExit, ErrNoClient, nil)
		return ErrNoClient
	}

	client := exec.Command(nodeCfg.Client, nodeCfg.ClientArgs...)
	client.Stdout = n.Stdout
	client.Stderr = n.Stderr
	if err := client.Start(); err != nil {
		_ = n.Child.Report(procs.ResultExit, err, nil)
		return fmt.Errorf("start client %s: %w", nodeCfg.Client, err)
	}
	n.Logger.Info("Started blockchain client", "client", nodeCfg.Client, "pid", client.Process.Pid)

	clientDone := make(chan error, 1)
	go func() { clientDone <- client.Wait() }()

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	go n.waitAvailable(pollCtx, nodeCfg)

	for {
		select {
		case err := <-clientDone:
			stopPolling()
			return n.Child.Report(procs.ResultExit, err, nil)
		case m := <-messages:
			if m.Action != procs.ActionExit {
				n.Logger.Debug("Ignoring node message", "action", m.Action)
				continue
			}
			stopPolling()
			n.stopClient(client, clientDone)
			return n.Child.Report(procs.ResultExit, nil, nil)
		case <-streamErr:
			stopPolling()
			n.stopClient(client, clientDone)
			return nil
		case <-ctx.Done():
			n.stopClient(client, clientDone)
			return ctx.Err()
		}
	}
}

func (n *NodeProcess) setDefaults() {
	if n.Logger == nil {
		n.Logger = dappkit.NopLogger()
	}
	if n.Stdout == nil {
		n.Stdout = os.Stdout
	}
	if n.Stderr == nil {
		n.Stderr = os.Stderr
	}
	if n.HTTPClient == nil {
		n.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	}
}

// waitAvailable polls the RPC endpoint until any HTTP response comes back,
// then reports ready.
func (n *NodeProcess) waitAvailable(ctx context.Context, nodeCfg NodeInit) {
	interval := nodeCfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n.available(ctx, nodeCfg.RPCURL) {
			if err := n.Child.Report(procs.ResultReady, nil, nil); err != nil {
				n.Logger.Warn("Failed to report readiness", "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *NodeProcess) available(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// stopClient interrupts the client and kills it if it outlives the grace
// period.
func (n *NodeProcess) stopClient(client *exec.Cmd, done <-chan error) {
	if err := client.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = client.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(clientStopGrace):
		_ = client.Process.Kill()
		<-done
	}
}
