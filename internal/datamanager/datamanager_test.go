package datamanager

import (
	"testing"

	"github.com/compsweave/taskrt/internal/datamodel"
)

type nopLogger struct{}

func (nopLogger) Warn(msg string, fields ...any) {}
func (nopLogger) Info(msg string, fields ...any) {}

type fakeTransfer struct {
	calls int
	kind  datamodel.ErrorKind
	fail  bool
}

func (f *fakeTransfer) AskForTransfer(param *datamodel.Param, idx int, listener Listener) {
	f.calls++
	if f.fail {
		listener.ErrorFetchingValue(param.ReadDII, f.kind)
		return
	}
	listener.FetchedValue(param.ReadDII)
}

func newTestManager(t *testing.T, tr TransferProvider) *Manager {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		WorkerID:           "w1",
		WorkspaceDir:       dir,
		Transfer:           tr,
		AllowNonAtomicMove: true,
		Log:                nopLogger{},
	})
}

func TestFetchObjectTransfersWhenNotLocal(t *testing.T) {
	tr := &fakeTransfer{}
	m := newTestManager(t, tr)

	param := &datamodel.Param{Type: datamodel.TypeObject, ReadDII: "d1_v1"}
	var gotErr *datamodel.ErrorKind
	var fetched bool
	m.FetchParam(param, 0, listenerFunc{
		onFetched: func(datamodel.DII) { fetched = true },
		onError:   func(_ datamodel.DII, k datamodel.ErrorKind) { gotErr = &k },
	})

	if !fetched || gotErr != nil {
		t.Fatalf("expected fetched=true got err=%v", gotErr)
	}
	if tr.calls != 1 {
		t.Fatalf("expected exactly one transfer call, got %d", tr.calls)
	}
}

func TestFetchObjectSkipsTransferWhenAlreadyLocal(t *testing.T) {
	tr := &fakeTransfer{}
	m := newTestManager(t, tr)

	dii := datamodel.DII("d2_v1")
	r := m.getOrCreate(dii)
	r.local = true

	param := &datamodel.Param{Type: datamodel.TypeObject, ReadDII: dii}
	var fetched bool
	m.FetchParam(param, 0, listenerFunc{
		onFetched: func(datamodel.DII) { fetched = true },
		onError:   func(datamodel.DII, datamodel.ErrorKind) {},
	})

	if !fetched {
		t.Fatal("expected immediate local fetch")
	}
	if tr.calls != 0 {
		t.Fatalf("expected no transfer when already local, got %d calls", tr.calls)
	}
}

func TestFetchPSCORegistersStorageIDWithoutTransfer(t *testing.T) {
	tr := &fakeTransfer{}
	m := newTestManager(t, tr)

	param := &datamodel.Param{Type: datamodel.TypePSCO, ReadDII: "d3_v1", StorageID: "psco-123"}
	var fetched bool
	m.FetchParam(param, 0, listenerFunc{
		onFetched: func(datamodel.DII) { fetched = true },
		onError:   func(datamodel.DII, datamodel.ErrorKind) {},
	})

	if !fetched || tr.calls != 0 {
		t.Fatalf("expected immediate fetch with no transfer, fetched=%v calls=%d", fetched, tr.calls)
	}
}

func TestStoreThenLoadRoundTrip(t *testing.T) {
	m := newTestManager(t, &fakeTransfer{})

	param := &datamodel.Param{Type: datamodel.TypeObject, WriteDII: "d4_v1", ReadDII: "d4_v1"}
	if err := m.StoreParam(param, []byte("hello")); err != nil {
		t.Fatalf("storeParam: %v", err)
	}

	got, err := m.LoadParam(param)
	if err != nil {
		t.Fatalf("loadParam: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected round-trip value, got %q", got)
	}
}

func TestRemoveObsoletesIsIdempotent(t *testing.T) {
	m := newTestManager(t, &fakeTransfer{})
	dii := datamodel.DII("d5_v1")
	m.getOrCreate(dii)

	m.RemoveObsoletes([]datamodel.DII{dii})
	m.RemoveObsoletes([]datamodel.DII{dii}) // must not error or panic

	if _, ok := m.lookup(dii); ok {
		t.Fatal("expected register to be gone after removeObsoletes")
	}
}

func TestFetchCollectionWaitsForAllChildren(t *testing.T) {
	tr := &fakeTransfer{}
	m := newTestManager(t, tr)

	param := &datamodel.Param{
		Type:    datamodel.TypeCollection,
		ReadDII: "dcol_v1",
		Collection: []datamodel.Param{
			{Type: datamodel.TypeObject, ReadDII: "dchild1_v1"},
			{Type: datamodel.TypeObject, ReadDII: "dchild2_v1"},
		},
	}

	var fetched bool
	m.FetchParam(param, 0, listenerFunc{
		onFetched: func(datamodel.DII) { fetched = true },
		onError:   func(datamodel.DII, datamodel.ErrorKind) {},
	})

	if !fetched {
		t.Fatal("expected collection fetch to complete once all children succeed")
	}
	if tr.calls != 2 {
		t.Fatalf("expected one transfer per child, got %d", tr.calls)
	}
}

func TestFetchCollectionPropagatesChildError(t *testing.T) {
	tr := &fakeTransfer{fail: true, kind: datamodel.KindTransfer}
	m := newTestManager(t, tr)

	param := &datamodel.Param{
		Type:    datamodel.TypeCollection,
		ReadDII: "dcol_v2",
		Collection: []datamodel.Param{
			{Type: datamodel.TypeObject, ReadDII: "dchild3_v1"},
		},
	}

	var gotErr *datamodel.ErrorKind
	m.FetchParam(param, 0, listenerFunc{
		onFetched: func(datamodel.DII) {},
		onError:   func(_ datamodel.DII, k datamodel.ErrorKind) { gotErr = &k },
	})

	if gotErr == nil || *gotErr != datamodel.KindTransfer {
		t.Fatalf("expected transfer error to propagate, got %v", gotErr)
	}
}
