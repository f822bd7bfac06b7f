package watcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperdrift/hl/internal/ipc"
)

// priceHandler serves getPrices from a fixed map, mimicking a warm daemon.
type priceHandler struct {
	mids map[string]string
}

func (h *priceHandler) Handle(req ipc.Request) ipc.Response {
	if req.Method != ipc.MethodGetPrices {
		return ipc.Fail(req.ID, "Unknown method: "+req.Method)
	}
	return ipc.Cached(req.ID, h.mids, 1234)
}

func startPriceServer(t *testing.T, mids map[string]string) (string, func()) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "server.sock")
	srv, err := ipc.NewServer(sock, &priceHandler{mids: mids})
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	return sock, func() { _ = srv.Close() }
}
