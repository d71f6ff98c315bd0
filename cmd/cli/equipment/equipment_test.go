package equipment

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crucial707/equipment-manager/cmd/cli/config"
	"github.com/crucial707/equipment-manager/cmd/cli/root"
	"github.com/crucial707/equipment-manager/internal/apiclient"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/spf13/cobra"
)

// withAPI points the CLI at srv and stores a token in a temp file.
func withAPI(t *testing.T, srv *httptest.Server) {
	t.Helper()
	t.Setenv("EQUIPMENT_API_URL", srv.URL)
	t.Setenv("EQUIPCTL_TOKEN_FILE", filepath.Join(t.TempDir(), "token"))
	if err := config.SaveToken("tok"); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestListEquipment_TableOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/equipment" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("token not sent")
		}
		if r.URL.Query().Get("q") != "atlas" {
			t.Errorf("query not sent: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(apiclient.Page{
			Items: []models.Equipment{
				{ID: 1, SerialNumber: "SN-1", EquipmentType: "Compressor", Manufacturer: "Atlas"},
				{ID: 2, SerialNumber: "SN-2", EquipmentType: "Dryer", Manufacturer: "Atlas"},
			},
			Total: 2,
		})
	}))
	defer srv.Close()
	withAPI(t, srv)

	out, err := run(t, listCmd(), "-q", "atlas")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "SN-1") || !strings.Contains(out, "SN-2") || !strings.Contains(out, "2 of 2") {
		t.Fatalf("expected serials in output, got: %s", out)
	}
}

func TestListEquipment_JSONOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(apiclient.Page{Items: []models.Equipment{{ID: 1, SerialNumber: "SN-1"}}, Total: 1})
	}))
	defer srv.Close()
	withAPI(t, srv)

	root.JSONOutput = true
	defer func() { root.JSONOutput = false }()

	out, err := run(t, listCmd())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, `"serial_number": "SN-1"`) {
		t.Fatalf("expected JSON output, got: %s", out)
	}
}

func TestList_NotLoggedIn(t *testing.T) {
	t.Setenv("EQUIPCTL_TOKEN_FILE", filepath.Join(t.TempDir(), "missing"))
	_, err := run(t, listCmd())
	if err != config.ErrNotLoggedIn {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestList_ExpiredTokenHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	withAPI(t, srv)

	_, err := run(t, listCmd())
	if err == nil || !strings.Contains(err.Error(), "equipctl login") {
		t.Fatalf("expected login hint, got %v", err)
	}
}

func TestSearch_SendsCriteria(t *testing.T) {
	var got search.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(apiclient.Page{
			Items:   []models.Equipment{},
			Summary: &models.SearchSummary{Customers: 1, EquipmentTypes: 2, Manufacturers: 3, Projects: 4},
		})
	}))
	defer srv.Close()
	withAPI(t, srv)

	out, err := run(t, searchCmd(), "--where", "customer_name:eq:Acme", "--where", "notes:contains:a:b", "--match", "any", "--fuzzy", "compresor")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got.Criteria) != 2 || got.Criteria[1].Value != "a:b" || got.Match != "any" {
		t.Errorf("unexpected request: %+v", got)
	}
	if got.Fuzzy == nil || got.Fuzzy.Text != "compresor" {
		t.Errorf("fuzzy not sent: %+v", got.Fuzzy)
	}
	if got.Fuzzy != nil && got.Fuzzy.Threshold != nil {
		t.Errorf("threshold sent without --threshold: %v", *got.Fuzzy.Threshold)
	}
	if !strings.Contains(out, "customers: 1  equipment types: 2  manufacturers: 3  projects: 4") {
		t.Errorf("summary not printed:\n%s", out)
	}
}

func TestSearch_ExplicitZeroThreshold(t *testing.T) {
	var got search.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(apiclient.Page{Items: []models.Equipment{}})
	}))
	defer srv.Close()
	withAPI(t, srv)

	if _, err := run(t, searchCmd(), "--fuzzy", "pump", "--threshold", "0"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.Fuzzy == nil || got.Fuzzy.Threshold == nil || *got.Fuzzy.Threshold != 0 {
		t.Errorf("explicit zero threshold not sent: %+v", got.Fuzzy)
	}
}

func TestUpdate_PrintsAuditEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/equipment/5" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Fields map[string]string `json:"fields"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Fields["location"] != "Plant 2" {
			t.Errorf("fields not sent: %v", body.Fields)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"equipment": models.Equipment{ID: 5, Location: "Plant 2"},
			"audit": []models.AuditEntry{
				{EquipmentID: 5, Action: "update", Field: "location", OldValue: "Plant 1", NewValue: "Plant 2", Actor: "alice"},
			},
		})
	}))
	defer srv.Close()
	withAPI(t, srv)

	out, err := run(t, updateCmd(), "5", "--set", "location=Plant 2")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(out, "Updated equipment 5") || !strings.Contains(out, "Plant 1") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestDelete_InvalidID(t *testing.T) {
	if _, err := run(t, deleteCmd(), "abc"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}

func TestParseCriterion(t *testing.T) {
	tests := []struct {
		in      string
		want    search.Criterion
		wantErr bool
	}{
		{in: "status:eq:active", want: search.Criterion{Field: "status", Op: "eq", Value: "active"}},
		{in: "notes:contains:a:b", want: search.Criterion{Field: "notes", Op: "contains", Value: "a:b"}},
		{in: "parent_serial:empty", want: search.Criterion{Field: "parent_serial", Op: "empty"}},
		{in: "status:eq", wantErr: true},
		{in: "status", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseCriterion(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%q: got %+v, %v", tc.in, got, err)
		}
	}
}

func TestParseAssignments(t *testing.T) {
	fields, err := ParseAssignments([]string{"location=Plant 2", "notes="})
	if err != nil {
		t.Fatal(err)
	}
	if fields["location"] != "Plant 2" || fields["notes"] != "" || len(fields) != 2 {
		t.Errorf("unexpected fields: %v", fields)
	}
	if _, err := ParseAssignments([]string{"password=x"}); err == nil {
		t.Error("expected unknown field error")
	}
	if _, err := ParseAssignments([]string{"location"}); err == nil {
		t.Error("expected missing = error")
	}
}
