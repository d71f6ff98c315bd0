package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/repo"
	"github.com/crucial707/equipment-manager/internal/sheet"
)

func newTransferHandler(t *testing.T) (*TransferHandler, sqlmock.Sqlmock) {
	conn, mock := newMockDB(t)
	return &TransferHandler{
		Repo: repo.NewEquipmentRepo(conn, nil),
		now:  func() time.Time { return fixedNow },
	}, mock
}

func multipartImport(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := requestWithChiURLParams("POST", "/import", buf.Bytes(), nil)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestTransferHandler_ExportCSV(t *testing.T) {
	h, mock := newTransferHandler(t)

	rows := sqlmock.NewRows(equipmentCols)
	equipmentRow(rows, 1, "SN-1", "Acme")
	equipmentRow(rows, 2, "SN-2", "Acme")
	mock.ExpectQuery(`SELECT .+ FROM "equipment" WHERE .+ ORDER BY`).WillReturnRows(rows)

	rr := httptest.NewRecorder()
	h.Export(rr, httptest.NewRequest("GET", "/export?format=csv&q=atlas", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Export status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "equipment-20261018.csv") {
		t.Errorf("Content-Disposition: %q", cd)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type: %q", ct)
	}
	read, vs, err := sheet.Read(rr.Body, sheet.FormatCSV)
	if err != nil || len(vs) > 0 {
		t.Fatalf("export does not read back: %v %v", err, vs)
	}
	if len(read) != 2 || read[1].Values["serial_number"] != "SN-2" {
		t.Errorf("unexpected rows: %+v", read)
	}
}

func TestTransferHandler_Export_BadFormat(t *testing.T) {
	h, _ := newTransferHandler(t)

	rr := httptest.NewRecorder()
	h.Export(rr, httptest.NewRequest("GET", "/export?format=ods", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Export status: got %d, want 400", rr.Code)
	}
}

func TestTransferHandler_ExportSearch_XLSX(t *testing.T) {
	h, mock := newTransferHandler(t)

	mock.ExpectQuery(`SELECT .+ FROM "equipment"`).
		WillReturnRows(equipmentRow(sqlmock.NewRows(equipmentCols), 1, "SN-1", "Acme"))

	body := []byte(`{"criteria":[{"field":"customer_name","op":"eq","value":"Acme"}]}`)
	rr := httptest.NewRecorder()
	h.ExportSearch(rr, requestWithChiURLParams("POST", "/export?format=xlsx", body, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("ExportSearch status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	read, _, err := sheet.Read(rr.Body, sheet.FormatXLSX)
	if err != nil || len(read) != 1 || read[0].Values["customer_name"] != "Acme" {
		t.Errorf("unexpected xlsx content: %+v (%v)", read, err)
	}
}

func TestTransferHandler_Import_DryRun(t *testing.T) {
	h, mock := newTransferHandler(t)

	var file bytes.Buffer
	if err := sheet.Write(&file, sheet.FormatCSV, []models.Equipment{
		{SerialNumber: "SN-7", EquipmentType: "Pump", Manufacturer: "Grundfos", Status: "active"},
	}); err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id", "serial_number" FROM "equipment"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "serial_number"}))
	mock.ExpectQuery(`SELECT "id", "serial_number" FROM "equipment"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "serial_number"}))
	mock.ExpectQuery(`INSERT INTO "equipment"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO "audit_log"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	rr := httptest.NewRecorder()
	h.Import(rr, multipartImport(t, "equipment.csv", file.Bytes(), map[string]string{"dry_run": "true"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("Import status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	var out ImportResponse
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.DryRun || out.Format != sheet.FormatCSV || out.Rows != 1 || out.Inserted != 1 {
		t.Errorf("unexpected response: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestTransferHandler_Import_RejectsWithRowNumbers(t *testing.T) {
	h, mock := newTransferHandler(t)

	csv := "serial_number,equipment_type,manufacturer,year_manufactured\n" +
		"SN-1,Pump,Grundfos,2010\n" +
		"SN-2,,Grundfos,2011\n" +
		"SN-3,Valve,Belimo,around 2000\n"

	rr := httptest.NewRecorder()
	h.Import(rr, multipartImport(t, "equipment.csv", []byte(csv), nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Import status: got %d, want 400 (%s)", rr.Code, rr.Body.String())
	}
	var out errorBody
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	rows := map[int]string{}
	for _, v := range out.Violations {
		rows[v.Row] = v.Field
	}
	if len(out.Violations) != 2 || rows[3] != "equipment_type" || rows[4] != "year_manufactured" {
		t.Errorf("expected violations on rows 3 and 4, got %+v", out.Violations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no query expected: %v", err)
	}
}

func TestTransferHandler_Import_DuplicateSerialInFile(t *testing.T) {
	h, mock := newTransferHandler(t)

	csv := "serial_number,equipment_type,manufacturer\n" +
		"SN-1,Pump,Grundfos\n" +
		",,\n" +
		"SN-1,Pump,Grundfos\n"

	rr := httptest.NewRecorder()
	h.Import(rr, multipartImport(t, "equipment.csv", []byte(csv), nil))

	if rr.Code != http.StatusConflict {
		t.Fatalf("Import status: got %d, want 409 (%s)", rr.Code, rr.Body.String())
	}
	var out errorBody
	json.NewDecoder(rr.Body).Decode(&out)
	if len(out.Violations) != 1 || out.Violations[0].Row != 4 {
		t.Errorf("expected duplicate reported on spreadsheet row 4, got %+v", out.Violations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no query expected: %v", err)
	}
}

func TestTransferHandler_Import_Unreadable(t *testing.T) {
	h, _ := newTransferHandler(t)

	for name, content := range map[string][]byte{
		"empty.csv":  {},
		"header.csv": []byte("serial_number,equipment_type,manufacturer\n"),
		"latin1.csv": {'s', 'e', 'r', 'i', 'a', 'l', '_', 'n', 'u', 'm', 'b', 'e', 'r', '\n', 0xe9, '\n'},
	} {
		rr := httptest.NewRecorder()
		h.Import(rr, multipartImport(t, name, content, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", name, rr.Code)
		}
	}
}

func TestTransferHandler_Import_MissingFile(t *testing.T) {
	h, _ := newTransferHandler(t)

	rr := httptest.NewRecorder()
	h.Import(rr, requestWithChiURLParams("POST", "/import", []byte("x"), nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Import status: got %d, want 400", rr.Code)
	}
}

func TestTransferHandler_Import_TooLarge(t *testing.T) {
	h, _ := newTransferHandler(t)
	h.MaxBytes = 64

	rr := httptest.NewRecorder()
	h.Import(rr, multipartImport(t, "big.csv", bytes.Repeat([]byte("a"), 1024), nil))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Import status: got %d, want 413", rr.Code)
	}
}
