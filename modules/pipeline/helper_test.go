package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/dappkit/modules/procs"
)

func helperArgs(mode string) []string {
	return []string{"-test.run=TestHelperProcess", "--", mode}
}

// TestHelperProcess is a fake bundler. It is only active when started by
// a test through the launcher.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	mode := os.Args[len(os.Args)-1]
	if err := runFakeBundler(mode); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(0)
}

func runFakeBundler(mode string) error {
	child, err := procs.OpenChild("bundler")
	if err != nil {
		return err
	}
	defer child.Close()

	m, err := child.Receive()
	if err != nil {
		return err
	}
	var initPayload BundlerInit
	if err := m.Decode(&initPayload); err != nil {
		return err
	}
	if mode == "bundler-crash" {
		os.Exit(3)
	}

	if m, err = child.Receive(); err != nil {
		return err
	}
	var buildPayload BundlerBuild
	if err := m.Decode(&buildPayload); err != nil {
		return err
	}
	fmt.Println("bundling", initPayload.ConfigName)

	if mode == "bundler-error" {
		return child.Report(procs.ResultError, fmt.Errorf("syntax error in app.js"), nil)
	}

	for target := range buildPayload.Assets {
		if !strings.HasSuffix(target, ".js") {
			continue
		}
		dst := filepath.Join(initPayload.BuildDir, target)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		content := "// bundled\n"
		if _, ok := buildPayload.Imports[ImportRuntime]; ok {
			content += "// runtime\n"
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			return err
		}
	}
	if err := child.Report(procs.ResultBuilt, nil, nil); err != nil {
		return err
	}
	if err := child.Report(procs.ResultDone, nil, nil); err != nil {
		return err
	}

	// Wait to be killed.
	for {
		if _, err := child.Receive(); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}
