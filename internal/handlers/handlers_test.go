package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crucial707/equipment-manager/internal/middleware"
	"github.com/go-chi/chi/v5"
)

var fixedNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

var equipmentCols = []string{
	"id", "serial_number", "equipment_type", "manufacturer", "model", "location", "status",
	"customer_id", "customer_name", "project_id", "manufacturer_project_id", "functional_position",
	"year_manufactured", "install_date", "parent_serial", "notes",
	"created_at", "updated_at", "deleted_at",
}

func equipmentRow(rows *sqlmock.Rows, id int64, serial, customer string) *sqlmock.Rows {
	return rows.AddRow(
		id, serial, "Compressor", "Atlas", "GA37", "Plant 1", "active",
		"C-1", customer, "P-9", "", "",
		2015, nil, "", "",
		fixedNow, fixedNow, nil,
	)
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

// requestWithChiURLParams returns a request with chi route context and URL params set.
func requestWithChiURLParams(method, path string, body []byte, params map[string]string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(middleware.WithUsername(ctx, "alice"))
}
