package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/crucial707/equipment-manager/internal/apiclient"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/crucial707/equipment-manager/internal/session"
	"github.com/crucial707/equipment-manager/internal/sheet"
)

// criteriaRows is how many advanced-criterion rows the search form offers.
const criteriaRows = 3

var searchOps = []string{
	search.OpContains, search.OpEq, search.OpNe, search.OpPrefix,
	search.OpGt, search.OpGte, search.OpLt, search.OpLte, search.OpEmpty,
}

// ==========================
// Search
// ==========================

type searchData struct {
	Filter    search.Request
	Criteria  []search.Criterion
	Fuzzy     string
	Threshold string
	Ops       []string
	Ran       bool
	Page      apiclient.Page
}

// searchPanel runs the search in the query string, or re-runs the one
// remembered in the session when the form was not submitted. A filter is
// remembered only once the API has accepted it.
func (s *server) searchPanel(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	q := r.URL.Query()
	v := s.view(sess, "Search", nil)
	filter := sess.Filter
	if q.Get("run") != "" {
		req, err := searchRequest(q)
		if err != nil {
			v.Error = err.Error()
			v.Data = formSearchData(sess.Filter)
			s.render(w, http.StatusBadRequest, "search.html", v)
			return
		}
		filter = req
	}

	data := formSearchData(filter)
	v.Data = data
	page, err := s.client(sess).Search(r.Context(), filter)
	if err != nil {
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "search.html", v)
		}
		return
	}
	sess.Filter = filter
	data.Ran = true
	data.Page = page
	s.render(w, http.StatusOK, "search.html", v)
}

func formSearchData(f search.Request) *searchData {
	d := &searchData{Filter: f, Ops: searchOps}
	d.Criteria = append(d.Criteria, f.Criteria...)
	for len(d.Criteria) < criteriaRows {
		d.Criteria = append(d.Criteria, search.Criterion{})
	}
	if f.Fuzzy != nil {
		d.Fuzzy = f.Fuzzy.Text
		if f.Fuzzy.Threshold != nil {
			d.Threshold = strconv.FormatFloat(*f.Fuzzy.Threshold, 'f', -1, 64)
		}
	}
	return d
}

// searchRequest reads the search form. Field and operator checks are left to
// the API, which reports them in the panel.
func searchRequest(q url.Values) (search.Request, error) {
	req := search.Request{
		Query: strings.TrimSpace(q.Get("q")),
		Match: q.Get("match"),
		Sort:  q.Get("sort"),
		Desc:  q.Get("desc") == "true",
	}
	fields, ops, values := q["field"], q["op"], q["value"]
	for i, f := range fields {
		if f == "" {
			continue
		}
		c := search.Criterion{Field: f}
		if i < len(ops) {
			c.Op = ops[i]
		}
		if i < len(values) {
			c.Value = strings.TrimSpace(values[i])
		}
		req.Criteria = append(req.Criteria, c)
	}
	if text := strings.TrimSpace(q.Get("fuzzy")); text != "" {
		req.Fuzzy = &search.Fuzzy{Text: text}
		if raw := strings.TrimSpace(q.Get("threshold")); raw != "" {
			t, err := strconv.ParseFloat(raw, 64)
			if err != nil || t < 0 || t > 1 {
				return req, fmt.Errorf("threshold must be a number between 0 and 1")
			}
			req.Fuzzy.Threshold = &t
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return req, fmt.Errorf("limit must be a positive number")
		}
		req.Limit = n
	}
	return req, nil
}

// exportSearch downloads every record matching the remembered search.
func (s *server) exportSearch(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	format, err := sheet.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var buf bytes.Buffer
	name, err := s.client(sess).Export(r.Context(), format, sess.Filter, &buf)
	if err != nil {
		v := s.view(sess, "Search", formSearchData(sess.Filter))
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "search.html", v)
		}
		return
	}
	w.Header().Set("Content-Type", sheet.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	buf.WriteTo(w)
}

// ==========================
// Graph
// ==========================

type graphPage struct {
	Max   int
	Query string
	Src   string
}

func (s *server) graphPanel(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	limit := s.graphMax
	if n, err := strconv.Atoi(r.URL.Query().Get("max")); err == nil && n > 0 {
		limit = n
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	src := url.Values{"max_equipment": {strconv.Itoa(limit)}}
	if query != "" {
		src.Set("q", query)
	}
	s.render(w, http.StatusOK, "graph.html", s.view(sess, "Relationships", graphPage{
		Max:   limit,
		Query: query,
		Src:   "/graph/data?" + src.Encode(),
	}))
}

// graphData proxies GET /graph for the vis-network script.
func (s *server) graphData(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	g, err := s.client(sess).Graph(r.Context(), r.URL.Query())
	if err != nil {
		status := apiclient.StatusOf(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g)
}

// ==========================
// Import
// ==========================

type importData struct {
	Filename string
	DryRun   bool
	Result   *apiclient.ImportResult
}

func (s *server) importForm(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.render(w, http.StatusOK, "import.html", s.view(sess, "Import", importData{DryRun: true}))
}

// importSubmit forwards the uploaded spreadsheet to the API. A rejected
// file is listed with its row-level problems and nothing is stored.
func (s *server) importSubmit(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	v := s.view(sess, "Import", nil)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		v.Error = "The upload is too large or malformed."
		v.Data = importData{}
		s.render(w, http.StatusBadRequest, "import.html", v)
		return
	}
	defer r.MultipartForm.RemoveAll()

	data := importData{DryRun: r.FormValue("dry_run") != ""}
	file, header, err := r.FormFile("file")
	if err != nil {
		v.Error = "Choose a .xlsx or .csv file to import."
		v.Data = data
		s.render(w, http.StatusBadRequest, "import.html", v)
		return
	}
	defer file.Close()
	data.Filename = header.Filename

	res, err := s.client(sess).Import(r.Context(), header.Filename, file, data.DryRun)
	if err != nil {
		v.Data = data
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "import.html", v)
		}
		return
	}
	data.Result = &res
	v.Data = data
	s.render(w, http.StatusOK, "import.html", v)
}

// ==========================
// Report
// ==========================

type reportData struct {
	Stats  models.EquipmentStats
	Recent []models.Equipment
	Audit  []models.AuditEntry
}

// reportPanel shows the analysis report, the most recently changed records
// and the latest audit entries.
func (s *server) reportPanel(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	client := s.client(sess)
	ctx := r.Context()
	v := s.view(sess, "Report", nil)

	var data reportData
	stats, err := client.Stats(ctx)
	if err == nil {
		data.Stats = stats
		var page apiclient.Page
		page, err = client.List(ctx, url.Values{"sort": {"updated_at"}, "desc": {"true"}, "limit": {"10"}})
		data.Recent = page.Items
	}
	if err == nil {
		data.Audit, err = client.Audit(ctx, url.Values{"limit": {"25"}})
	}
	if err != nil {
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "report.html", v)
		}
		return
	}
	v.Data = data
	s.render(w, http.StatusOK, "report.html", v)
}

func (s *server) usersPanel(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	v := s.view(sess, "Users", nil)
	users, err := s.client(sess).Users(r.Context())
	if err != nil {
		if status, ok := s.apiFailure(w, r, sess, &v, err); ok {
			s.render(w, status, "users.html", v)
		}
		return
	}
	v.Data = users
	s.render(w, http.StatusOK, "users.html", v)
}
