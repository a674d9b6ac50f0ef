package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cavistelabs/sommelier/pkg/store"
)

type fakeLoader struct {
	rows map[string]map[string]map[string]string // table -> hash -> row
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{rows: map[string]map[string]map[string]string{}}
}

func (f *fakeLoader) InsertRawRows(_ context.Context, table, _ string, hashes []string, rows []map[string]string) (int, error) {
	if f.rows[table] == nil {
		f.rows[table] = map[string]map[string]string{}
	}
	inserted := 0
	for i, h := range hashes {
		if _, seen := f.rows[table][h]; seen {
			continue
		}
		f.rows[table][h] = rows[i]
		inserted++
	}
	return inserted, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileExportSync(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "clients_old.csv", "Code Client;Nom\nSTALE;Vieux\n")
	require.NoError(t, os.Chtimes(old, time.Now().Add(-48*time.Hour), time.Now().Add(-48*time.Hour)))
	writeFile(t, dir, "clients_2026.csv", "Code Client;Nom;Email\nC001;Martin;m@ex.fr\nC002;Durand;d@ex.fr\n")
	writeFile(t, dir, "ventes_2026.csv", "Doc;Code Client;Produit;Quantité\nF1;C001;P01;6\n")

	fe, err := NewFileExport(map[string]any{"export_path": dir})
	require.NoError(t, err)
	loader := newFakeLoader()
	conn := New("shop-exports", fe, loader, rate.Inf, 1)

	require.NoError(t, conn.TestConnection(context.Background()))
	assert.Equal(t, StatusHealthy, conn.Status().Status)

	result := conn.Sync(context.Background(), ExtractOptions{})
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Equal(t, 2, result.Records[store.RawCustomers])
	assert.Equal(t, 1, result.Records[store.RawSalesLines])
	assert.NotEmpty(t, result.BatchID)
	assert.Nil(t, result.Cursor)

	// The newest clients file wins.
	for _, row := range loader.rows[store.RawCustomers] {
		assert.NotEqual(t, "STALE", row["code_client"])
	}

	// Sources with no matching file come back as warnings.
	assert.Contains(t, result.Warnings, "no export file for products")

	// Re-syncing identical content inserts nothing new.
	again := conn.Sync(context.Background(), ExtractOptions{})
	require.True(t, again.Success)
	assert.Zero(t, again.Records[store.RawCustomers])

	assert.Equal(t, StatusHealthy, conn.Status().Status)
	assert.NotNil(t, conn.Status().LastSync)
}

func TestFileExportConfigValidation(t *testing.T) {
	_, err := NewFileExport(map[string]any{})
	assert.Error(t, err)

	_, err = NewFileExport(map[string]any{"export_path": ""})
	assert.Error(t, err)
}

func TestFileExportMissingDirectory(t *testing.T) {
	fe, err := NewFileExport(map[string]any{"export_path": "/nonexistent/exports"})
	require.NoError(t, err)
	conn := New("bad", fe, newFakeLoader(), rate.Inf, 1)

	assert.Error(t, conn.TestConnection(context.Background()))
	st := conn.Status()
	assert.Equal(t, StatusError, st.Status)
	assert.NotEmpty(t, st.LastError)
}

type failingSource struct{}

func (failingSource) Kind() Kind                             { return KindFileExport }
func (failingSource) TestConnection(context.Context) error   { return nil }
func (failingSource) Extract(context.Context, ExtractOptions) (map[SourceKind][]RawRecord, *time.Time, error) {
	return nil, nil, fmt.Errorf("boom")
}
func (failingSource) Transform(map[SourceKind][]RawRecord) (map[string][]RawRecord, []string, error) {
	return nil, nil, nil
}

func TestSyncFailureReportsInResult(t *testing.T) {
	conn := New("broken", failingSource{}, newFakeLoader(), rate.Inf, 1)
	result := conn.Sync(context.Background(), ExtractOptions{})
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "boom")
	assert.Equal(t, StatusError, conn.Status().Status)
}

func erpTestServer(t *testing.T) (*httptest.Server, *[]rpcParams) {
	t.Helper()
	var calls []rpcParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, req.Params)

		var result any
		switch req.Params.Method {
		case "authenticate":
			result = 7
		case "execute_kw":
			model := req.Params.Args[3].(string)
			if model == "res.partner" {
				result = []map[string]any{
					{"ref": "C001", "name": "Martin", "email": "m@ex.fr", "phone": false,
						"zip": "33000", "city": "Bordeaux", "write_date": "2026-08-01 10:00:00"},
					{"ref": "C002", "name": "Durand", "email": "d@ex.fr", "phone": "0601020304",
						"zip": "75001", "city": "Paris", "write_date": "2026-08-03 09:30:00"},
				}
			} else {
				result = []map[string]any{}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestERPIncrementalExtract(t *testing.T) {
	srv, calls := erpTestServer(t)
	erp, err := NewERP(map[string]any{
		"url": srv.URL, "database": "prod", "user": "sync", "api_key": "k",
	})
	require.NoError(t, err)

	require.NoError(t, erp.TestConnection(context.Background()))
	assert.Equal(t, 7, erp.uid)

	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	raw, cursor, err := erp.Extract(context.Background(), ExtractOptions{
		Source:   SourceCustomers,
		LastSync: &since,
	})
	require.NoError(t, err)
	require.Len(t, raw[SourceCustomers], 2)

	// Cursor advances to the max write_date observed.
	require.NotNil(t, cursor)
	assert.Equal(t, time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC), cursor.UTC())

	// The search domain carries the incremental filter.
	var sawFilter bool
	for _, c := range *calls {
		if c.Method != "execute_kw" {
			continue
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		require.NoError(t, enc.Encode(c.Args))
		if strings.Contains(buf.String(), `"write_date",">","2026-07-01 00:00:00"`) {
			sawFilter = true
		}
	}
	assert.True(t, sawFilter)

	canonical, warnings, err := erp.Transform(raw)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	rows := canonical[store.RawCustomers]
	require.Len(t, rows, 2)
	assert.Equal(t, "C001", rows[0]["customer_code"])
	assert.Equal(t, "Bordeaux", rows[0]["city"])
	assert.Equal(t, "", rows[0]["phone"]) // ERP null comes over as false
	assert.Equal(t, "0601020304", rows[1]["phone"])
}

func TestERPConfigValidation(t *testing.T) {
	_, err := NewERP(map[string]any{"url": "http://erp.local"})
	assert.Error(t, err)
}

func TestManagerLoadFileAndSync(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clients.csv", "Code Client;Nom\nC001;Martin\n")
	cfg := writeFile(t, dir, "connectors.yaml", fmt.Sprintf(`
connectors:
  - name: shop-exports
    kind: file_export
    rate_per_minute: 120
    config:
      export_path: %s
`, dir))

	mgr := NewManager(newFakeLoader())
	require.NoError(t, mgr.LoadFile(cfg))

	statuses := mgr.List()
	require.Contains(t, statuses, "shop-exports")
	assert.Equal(t, StatusConfiguring, statuses["shop-exports"].Status)

	result := mgr.Sync(context.Background(), "shop-exports", ExtractOptions{Source: SourceCustomers})
	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Records[store.RawCustomers])

	history := mgr.History("shop-exports", 10)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)

	missing := mgr.Sync(context.Background(), "nope", ExtractOptions{})
	assert.False(t, missing.Success)
}

func TestManagerRejectsUnknownKind(t *testing.T) {
	mgr := NewManager(newFakeLoader())
	err := mgr.Register(Definition{Name: "x", Kind: Kind("carrier_pigeon")})
	assert.Error(t, err)
}
