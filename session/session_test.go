package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/upcast/upcast/backend"
	"github.com/upcast/upcast/failure"
	"github.com/upcast/upcast/job"
)

type stubHandle struct {
	kind    backend.Kind
	account string
}

func (h stubHandle) Kind() backend.Kind { return h.kind }
func (h stubHandle) AccountID() string  { return h.account }

type stubBackend struct {
	kind     backend.Kind
	exportFn func(ctx context.Context, h backend.Handle) (*job.SessionBlob, error)
	importFn func(ctx context.Context, account job.AccountRef, blob *job.SessionBlob) error
	imported []*job.SessionBlob
}

func (b *stubBackend) Kind() backend.Kind { return b.kind }

func (b *stubBackend) Prepare(ctx context.Context, account job.AccountRef, proxy job.ProxyRef, blob *job.SessionBlob) (backend.Handle, error) {
	return stubHandle{kind: b.kind, account: account.ID}, nil
}

func (b *stubBackend) Execute(ctx context.Context, h backend.Handle, asset job.Asset) job.ExecutionResult {
	return job.ExecutionResult{Outcome: job.OutcomeSuccess, AssetID: asset.ID}
}

func (b *stubBackend) ExportSession(ctx context.Context, h backend.Handle) (*job.SessionBlob, error) {
	if b.exportFn != nil {
		return b.exportFn(ctx, h)
	}
	return &job.SessionBlob{AccountID: h.AccountID(), Payload: json.RawMessage(`{}`)}, nil
}

func (b *stubBackend) ImportSession(ctx context.Context, account job.AccountRef, blob *job.SessionBlob) error {
	if b.importFn != nil {
		return b.importFn(ctx, account, blob)
	}
	b.imported = append(b.imported, blob)
	return nil
}

func (b *stubBackend) Close(ctx context.Context, h backend.Handle) error { return nil }

func twoBackendRegistry() (*backend.Registry, *stubBackend, *stubBackend) {
	browser := &stubBackend{kind: backend.KindBrowser}
	api := &stubBackend{kind: backend.KindAPI}
	reg := backend.NewRegistry()
	reg.Register(browser)
	reg.Register(api)
	return reg, browser, api
}

func TestExportStampsSourceAndTime(t *testing.T) {
	reg, browser, _ := twoBackendRegistry()
	m := NewManager(reg)

	blob, err := m.Export(context.Background(), browser, stubHandle{kind: backend.KindBrowser, account: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if blob.Source != "browser" {
		t.Fatalf("Source = %q, want browser", blob.Source)
	}
	if blob.ExportedAt.IsZero() {
		t.Fatal("ExportedAt not stamped")
	}
}

func TestResyncMovesSessionToOtherBackend(t *testing.T) {
	reg, browser, api := twoBackendRegistry()
	m := NewManager(reg)
	account := job.AccountRef{ID: "a1", Backends: []string{"browser", "api"}}

	target, err := m.Resync(context.Background(), account, browser, stubHandle{kind: backend.KindBrowser, account: "a1"})
	if err != nil {
		t.Fatal(err)
	}
	if target != backend.KindAPI {
		t.Fatalf("target = %s, want api", target)
	}
	if len(api.imported) != 1 {
		t.Fatalf("api received %d imports, want 1", len(api.imported))
	}
	if api.imported[0].Source != "browser" {
		t.Fatalf("imported blob source = %q", api.imported[0].Source)
	}
}

func TestResyncWithoutAltBackend(t *testing.T) {
	reg, browser, _ := twoBackendRegistry()
	m := NewManager(reg)
	account := job.AccountRef{ID: "a1", Backends: []string{"browser"}}

	_, err := m.Resync(context.Background(), account, browser, stubHandle{kind: backend.KindBrowser, account: "a1"})
	if failure.Classify(err) != failure.ResourceUnavailable {
		t.Fatalf("got %v, want a resource-unavailable failure", err)
	}
}

func TestImportFailureIsSessionInvalid(t *testing.T) {
	reg, _, api := twoBackendRegistry()
	api.importFn = func(ctx context.Context, account job.AccountRef, blob *job.SessionBlob) error {
		return errors.New("device mismatch")
	}
	m := NewManager(reg)
	account := job.AccountRef{ID: "a1", Backends: []string{"browser", "api"}}

	err := m.Import(context.Background(), account, &job.SessionBlob{AccountID: "a1"}, backend.KindAPI)
	if failure.Classify(err) != failure.SessionInvalid {
		t.Fatalf("got %v, want a session-invalid failure", err)
	}
}

func TestImportUnknownKind(t *testing.T) {
	m := NewManager(backend.NewRegistry())

	err := m.Import(context.Background(), job.AccountRef{ID: "a1"}, &job.SessionBlob{}, backend.KindAPI)
	if failure.Classify(err) != failure.ResourceUnavailable {
		t.Fatalf("got %v, want a resource-unavailable failure", err)
	}
	if !errors.Is(err, backend.ErrUnknownKind) {
		t.Fatal("cause lost")
	}
}

func TestPrimeInstallsIntoNonSourceBackends(t *testing.T) {
	reg, browser, api := twoBackendRegistry()
	m := NewManager(reg)

	account := job.AccountRef{
		ID:       "a1",
		Backends: []string{"browser", "api"},
		Session:  &job.SessionBlob{AccountID: "a1", Source: "browser", Payload: json.RawMessage(`{"cookie":"x"}`)},
	}

	if err := m.Prime(context.Background(), account); err != nil {
		t.Fatal(err)
	}
	if len(browser.imported) != 0 {
		t.Fatal("snapshot re-imported into its own source")
	}
	if len(api.imported) != 1 {
		t.Fatalf("api received %d imports, want 1", len(api.imported))
	}
}

func TestPrimeWithoutSnapshotIsNoop(t *testing.T) {
	reg, browser, api := twoBackendRegistry()
	m := NewManager(reg)

	if err := m.Prime(context.Background(), job.AccountRef{ID: "a1", Backends: []string{"browser", "api"}}); err != nil {
		t.Fatal(err)
	}
	if len(browser.imported)+len(api.imported) != 0 {
		t.Fatal("prime imported without a snapshot")
	}
}
