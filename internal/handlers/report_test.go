package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crucial707/equipment-manager/internal/db"
	"github.com/crucial707/equipment-manager/internal/graph"
	"github.com/crucial707/equipment-manager/internal/repo"
	"github.com/crucial707/equipment-manager/internal/validation"
	"github.com/lib/pq"
)

func TestAuditHandler_List_Filters(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT .+ FROM "audit_log" WHERE \(\("equipment_id" = \$1\) AND \("actor" = \$2\)\) ORDER BY "created_at" DESC, "id" DESC LIMIT \$3`).
		WithArgs(int64(5), "bob", 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "equipment_id", "action", "field", "old_value", "new_value", "actor", "created_at"}).
			AddRow(3, 5, "update", "location", "Plant 1", "Plant 2", "bob", fixedNow))

	h := &AuditHandler{Repo: repo.NewAuditRepo(db, nil)}
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest("GET", "/audit?equipment_id=5&actor=bob&limit=20", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("List status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var out []struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil || len(out) != 1 || out[0].Actor != "bob" {
		t.Errorf("unexpected entries: %+v (%v)", out, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestAuditHandler_List_BadParams(t *testing.T) {
	db, _ := newMockDB(t)
	h := &AuditHandler{Repo: repo.NewAuditRepo(db, nil)}

	for _, q := range []string{"equipment_id=x", "since=yesterday"} {
		rr := httptest.NewRecorder()
		h.List(rr, httptest.NewRequest("GET", "/audit?"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, rr.Code)
		}
	}
}

func TestParseSince(t *testing.T) {
	d, err := parseSince("2026-10-01")
	if err != nil || d.Day() != 1 {
		t.Errorf("date: %v %v", d, err)
	}
	ts, err := parseSince("2026-10-01T12:00:00Z")
	if err != nil || ts.Hour() != 12 {
		t.Errorf("timestamp: %v %v", ts, err)
	}
}

func TestReportHandler_Lookup(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT .+ FROM "equipment" WHERE .+"customer_id" = \$\d`).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "customer_name", "location", "manufacturer", "project_id"}).
			AddRow("C-1", "Acme", "Plant 1", "Atlas", "P-9"))

	h := &ReportHandler{Repo: repo.NewEquipmentRepo(db, nil)}
	rr := httptest.NewRecorder()
	h.Lookup(rr, httptest.NewRequest("GET", "/lookup?field=customer_id&value=C-1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Lookup status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var out LookupResponse
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.Found || out.Result.CustomerName != "Acme" {
		t.Errorf("unexpected lookup: %+v", out)
	}
}

func TestReportHandler_Lookup_BadField(t *testing.T) {
	db, _ := newMockDB(t)
	h := &ReportHandler{Repo: repo.NewEquipmentRepo(db, nil)}

	for _, q := range []string{"field=notes&value=x", "field=customer_id"} {
		rr := httptest.NewRecorder()
		h.Lookup(rr, httptest.NewRequest("GET", "/lookup?"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, rr.Code)
		}
	}
}

func TestNetworkHandler_Graph(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows(equipmentCols)
	equipmentRow(rows, 1, "SN-1", "Acme")
	equipmentRow(rows, 2, "SN-2", "Acme")
	equipmentRow(rows, 3, "SN-3", "Beta")
	mock.ExpectQuery(`SELECT .+ FROM "equipment"`).WillReturnRows(rows)

	h := &NetworkHandler{Repo: repo.NewEquipmentRepo(db, nil), MaxEquipment: 50}
	rr := httptest.NewRecorder()
	h.Graph(rr, httptest.NewRequest("GET", "/graph?max_equipment=2", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Graph status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var g graph.Graph
	if err := json.NewDecoder(rr.Body).Decode(&g); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !g.Truncated || g.TotalEquipment != 3 {
		t.Errorf("expected truncated graph of 3, got total=%d truncated=%v", g.TotalEquipment, g.Truncated)
	}
	equipment := 0
	for _, n := range g.Nodes {
		if n.Kind == graph.KindEquipment {
			equipment++
		}
	}
	if equipment != 2 {
		t.Errorf("equipment nodes: got %d, want 2", equipment)
	}
	if g.Stats.Nodes[graph.KindEquipment] != 2 || g.Stats.Edges != len(g.Edges) {
		t.Errorf("stats do not describe the drawn graph: %+v", g.Stats)
	}
}

func TestNetworkHandler_Graph_BadMax(t *testing.T) {
	db, _ := newMockDB(t)
	h := &NetworkHandler{Repo: repo.NewEquipmentRepo(db, nil)}

	rr := httptest.NewRecorder()
	h.Graph(rr, httptest.NewRequest("GET", "/graph?max_equipment=-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Graph status: got %d, want 400", rr.Code)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	h := &HealthHandler{DB: stubPinger{}}
	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Health status: got %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest("GET", "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Ready status: got %d, want 200", rr.Code)
	}

	h.DB = stubPinger{err: errors.New("connection refused")}
	rr = httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest("GET", "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Ready status: got %d, want 503", rr.Code)
	}
}

func TestRespondError_Mapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"violations", validation.Violations{{Field: "serial_number", Code: validation.CodeRequired}}, http.StatusBadRequest},
		{"duplicate", validation.Violations{{Field: "serial_number", Code: validation.CodeDuplicateSerial}}, http.StatusConflict},
		{"not found", repo.ErrNotFound, http.StatusNotFound},
		{"lookup field", repo.ErrLookupField, http.StatusBadRequest},
		{"retryable", db.Wrap("equipment.get", &pq.Error{Code: "57P01"}), http.StatusServiceUnavailable},
		{"constraint", db.Wrap("equipment.get", &pq.Error{Code: "23503"}), http.StatusConflict},
		{"terminal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			respondError(rr, logger(nil), "test", tc.err)
			if rr.Code != tc.want {
				t.Errorf("got %d, want %d", rr.Code, tc.want)
			}
		})
	}
}
