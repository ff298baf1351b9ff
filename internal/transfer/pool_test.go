package transfer

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamanager"
	"github.com/compsweave/taskrt/internal/datamodel"
)

type capturingListener struct {
	fetched chan datamodel.DII
	errored chan datamodel.ErrorKind
}

func newCapturingListener() *capturingListener {
	return &capturingListener{fetched: make(chan datamodel.DII, 1), errored: make(chan datamodel.ErrorKind, 1)}
}

func (c *capturingListener) FetchedValue(renaming datamodel.DII) { c.fetched <- renaming }
func (c *capturingListener) ErrorFetchingValue(renaming datamodel.DII, kind datamodel.ErrorKind) {
	c.errored <- kind
}

var _ datamanager.Listener = (*capturingListener)(nil)

func TestAskForTransferSucceedsFromReachableSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	p := New(Options{WorkspaceDir: dir, Parallelism: 1}, zap.NewNop())
	defer p.Close()

	param := &datamodel.Param{
		ReadDII: "d1_v1",
		Sources: []datamodel.SourceLocation{{WorkerID: srv.Listener.Addr().String()}},
	}
	listener := newCapturingListener()
	p.AskForTransfer(param, 0, listener)

	select {
	case dii := <-listener.fetched:
		if dii != "d1_v1" {
			t.Fatalf("unexpected dii %q", dii)
		}
	case kind := <-listener.errored:
		t.Fatalf("expected success, got error kind %v", kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transfer result")
	}
}

func TestAskForTransferFallsThroughToNextSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	p := New(Options{WorkspaceDir: dir, Parallelism: 1}, zap.NewNop())
	defer p.Close()

	param := &datamodel.Param{
		ReadDII: "d2_v1",
		Sources: []datamodel.SourceLocation{
			{WorkerID: "127.0.0.1:1"}, // unreachable
			{WorkerID: srv.Listener.Addr().String()},
		},
	}
	listener := newCapturingListener()
	p.AskForTransfer(param, 0, listener)

	select {
	case dii := <-listener.fetched:
		if dii != "d2_v1" {
			t.Fatalf("unexpected dii %q", dii)
		}
	case kind := <-listener.errored:
		t.Fatalf("expected fallback success, got error kind %v", kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transfer result")
	}
}

func TestAskForTransferReportsErrorWhenNoSourcesReachable(t *testing.T) {
	dir := t.TempDir()
	p := New(Options{WorkspaceDir: dir, Parallelism: 1}, zap.NewNop())
	defer p.Close()

	param := &datamodel.Param{
		ReadDII: "d3_v1",
		Sources: []datamodel.SourceLocation{{WorkerID: "127.0.0.1:1"}},
	}
	listener := newCapturingListener()
	p.AskForTransfer(param, 0, listener)

	select {
	case <-listener.fetched:
		t.Fatal("expected failure, got success")
	case kind := <-listener.errored:
		if kind != datamodel.KindTransfer {
			t.Fatalf("expected KindTransfer, got %v", kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transfer result")
	}
}
