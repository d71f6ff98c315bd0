package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crucial707/equipment-manager/internal/config"
)

var testCols = []string{
	"id", "serial_number", "equipment_type", "manufacturer", "model", "location", "status",
	"customer_id", "customer_name", "project_id", "manufacturer_project_id", "functional_position",
	"year_manufactured", "install_date", "parent_serial", "notes",
	"created_at", "updated_at", "deleted_at",
}

func login(t *testing.T, srvURL, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(srvURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: got %d, want 200", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		t.Fatalf("login response: %v", err)
	}
	return out.Token
}

// TestAPI_LoginThenListEquipment is an integration test: it builds the full router with a
// sqlmock-backed DB, logs in to get a JWT, then calls GET /equipment with the token.
func TestAPI_LoginThenListEquipment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT id, username, password_hash, created_at`).
		WithArgs("integration").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}).
			AddRow(1, "integration", "", time.Now()))
	mock.ExpectQuery(`SELECT COUNT\(\*\) AS "count" FROM "equipment"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT .+ FROM "equipment" WHERE .+ ORDER BY "serial_number" ASC, "id" ASC LIMIT \$\d`).
		WillReturnRows(sqlmock.NewRows(testCols).AddRow(
			1, "SN-1", "Compressor", "Atlas", "GA37", "Plant 1", "active",
			"C-1", "Acme", "P-9", "", "",
			2015, nil, "", "",
			time.Now(), time.Now(), nil,
		))

	cfg := config.Config{JWTSecret: "test-secret-for-integration", JWTExpireHours: 1}
	srv := httptest.NewServer(newRouter(db, cfg, nil))
	defer srv.Close()

	token := login(t, srv.URL, "integration")

	req, _ := http.NewRequest("GET", srv.URL+"/equipment", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("equipment request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /equipment status: got %d, want 200", resp.StatusCode)
	}
	var page struct {
		Items []struct {
			SerialNumber string `json:"serial_number"`
		} `json:"items"`
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode equipment: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].SerialNumber != "SN-1" {
		t.Errorf("unexpected page: %+v", page)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestAPI_ProtectedRoutesRequireToken(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, config.Config{JWTSecret: "x"}, nil))
	defer srv.Close()

	for _, path := range []string{"/equipment", "/graph", "/stats", "/audit", "/export"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token: got %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestAPI_SecurityHeadersAndRequestID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, config.Config{JWTSecret: "x"}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers: %v", resp.Header)
	}
}

// TestAPI_Health is a quick smoke test for the health endpoint.
func TestAPI_Health(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, config.Config{JWTSecret: "x"}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status: got %d, want 200", resp.StatusCode)
	}
}

// TestAPI_Ready checks that /ready pings the DB and returns 200 when DB is reachable.
func TestAPI_Ready(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, config.Config{JWTSecret: "x"}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatalf("ready request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /ready status: got %d, want 200", resp.StatusCode)
	}
}

func TestAPI_Metrics(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	srv := httptest.NewServer(newRouter(db, config.Config{JWTSecret: "x"}, nil))
	defer srv.Close()

	http.Get(srv.URL + "/health")
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "http_requests_total") {
		t.Errorf("request counter not exported")
	}
}

// Users signing in through the web UI share its address; the limiter counts
// each forwarded client separately.
func TestAPI_AuthRateLimitPerForwardedClient(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	for i := 0; i < 11; i++ {
		mock.ExpectQuery(`SELECT id, username, password_hash, created_at`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}))
	}

	cfg := config.Config{JWTSecret: "x", TrustedProxies: []string{"127.0.0.1", "::1"}}
	srv := httptest.NewServer(newRouter(db, cfg, nil))
	defer srv.Close()

	post := func(user, client string) int {
		body, _ := json.Marshal(map[string]string{"username": user})
		req, _ := http.NewRequest("POST", srv.URL+"/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if client != "" {
			req.Header.Set("X-Forwarded-For", client)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("login request: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 1; i <= 6; i++ {
		user := fmt.Sprintf("user%d", i)
		if code := post(user, fmt.Sprintf("203.0.113.%d", i)); code != http.StatusUnauthorized {
			t.Errorf("%s: got %d, want 401", user, code)
		}
	}

	// Without a forwarded address every request counts against the proxy itself.
	codes := []int{post("direct", "")}
	for i := 0; i < 5; i++ {
		codes = append(codes, post("direct", ""))
	}
	if codes[len(codes)-1] != http.StatusTooManyRequests {
		t.Errorf("direct requests: got %v, want the sixth to be 429", codes)
	}
}
