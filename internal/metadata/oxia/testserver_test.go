package oxia

import (
	"os"
	"testing"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

// testServer is an embedded Oxia standalone server, or a handle to an
// external one when OXIA_SERVICE_ADDRESS is set.
type testServer struct {
	standalone *dataserver.Standalone
	addr       string
}

func (s *testServer) Addr() string {
	return s.addr
}

// StartTestServer starts an Oxia standalone server for the duration of t.
func StartTestServer(t *testing.T) *testServer {
	t.Helper()

	if addr := os.Getenv("OXIA_SERVICE_ADDRESS"); addr != "" {
		t.Logf("Using external Oxia server at %s", addr)
		return &testServer{addr: addr}
	}

	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to start Oxia standalone server: %v", err)
	}
	t.Cleanup(func() {
		_ = standalone.Close()
	})

	return &testServer{
		standalone: standalone,
		addr:       standalone.ServiceAddr(),
	}
}
