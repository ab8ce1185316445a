package facade_test

import (
	"os"
	"testing"

	"github.com/honganh1206/mcprun/internal/testserver"
	"github.com/honganh1206/mcprun/transport"
)

// See registry/helper_process_test.go for the rationale behind re-execing
// this binary as a fake MCP server.
func TestMain(m *testing.M) {
	if len(os.Args) == 2 {
		switch os.Args[1] {
		case "-mcprun-echo-server":
			testserver.RunEcho(os.Stdin, os.Stdout)
			os.Exit(0)
		case "-mcprun-exit-after-one":
			testserver.RunExitAfterOne(os.Stdin, os.Stdout)
			os.Exit(0)
		}
	}
	os.Exit(m.Run())
}

func echoServerSpec() transport.LaunchSpec {
	return transport.LaunchSpec{Command: os.Args[0], Args: []string{"-mcprun-echo-server"}}
}

func exitAfterOneSpec() transport.LaunchSpec {
	return transport.LaunchSpec{Command: os.Args[0], Args: []string{"-mcprun-exit-after-one"}}
}
