package api

import (
	"bytes"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/dataset"
	"github.com/atlasmap-sc/spotview/internal/geom"
	"github.com/atlasmap-sc/spotview/internal/render"
	"github.com/atlasmap-sc/spotview/internal/selstore"
	"github.com/atlasmap-sc/spotview/internal/service"
)

// testServer holds the router and its dependencies
type testServer struct {
	router http.Handler
	svc    *service.ViewService
	store  *selstore.Store
}

// setupTestServer wires a small in-memory dataset behind the router.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	actb := &dataset.Gene{Name: "Actb", Selected: true, Color: color.RGBA{R: 255, A: 255}}
	gapdh := &dataset.Gene{Name: "Gapdh", Selected: true, Color: color.RGBA{B: 255, A: 255}}
	ds := dataset.New("mob", []*dataset.Gene{actb, gapdh}, []*dataset.Feature{
		{X: 10, Y: 10, Hits: 2, Gene: actb},
		{X: 20, Y: 10, Hits: 3, Gene: actb},
		{X: 30, Y: 40, Hits: 4, Gene: actb},
		{X: 50, Y: 60, Hits: 5, Gene: actb},
		{X: 10, Y: 10, Hits: 9, Gene: gapdh},
	}, geom.NewRect(0, 0, 100, 100))

	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: 16,
		FrameTTL:         1 * time.Minute,
		SummaryCacheSize: 10,
	})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })

	svc, err := service.NewViewService(service.ViewServiceConfig{
		DatasetID: "mob",
		Dataset:   ds,
		Cache:     cacheManager,
		Renderer:  render.NewFrameRenderer(render.Config{Width: 64, Height: 64, DefaultColormap: "viridis"}),
	})
	if err != nil {
		t.Fatalf("Failed to initialize view service: %v", err)
	}

	store, err := selstore.NewStore(filepath.Join(t.TempDir(), "selections.db"))
	if err != nil {
		t.Fatalf("Failed to open selection store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// Create registry with single dataset
	registry := NewDatasetRegistry("mob", []string{"mob"}, "")
	registry.Register("mob", svc)
	t.Cleanup(registry.Close)

	router := NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
		Cache:       cacheManager,
		Selections:  store,
		Quiet:       true,
	})
	return &testServer{router: router, svc: svc, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode JSON %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

type summaryPayload struct {
	Genes []struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
		Hits  int    `json:"hits"`
	} `json:"genes"`
	Total     int `json:"total"`
	TotalHits int `json:"total_hits"`
}

func TestHealthAndDatasets(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodGet, "/api/datasets", "")
	expectStatus(t, rec, http.StatusOK)
	var payload struct {
		Default  string        `json:"default"`
		Title    string        `json:"title"`
		Datasets []DatasetInfo `json:"datasets"`
	}
	decodeJSON(t, rec, &payload)
	if payload.Default != "mob" || payload.Title != "spotview" || len(payload.Datasets) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if ds := payload.Datasets[0]; ds.Genes != 2 || ds.Features != 5 {
		t.Fatalf("unexpected dataset info %+v", ds)
	}
	if got := payload.Datasets[0].Transform; got != [6]float64{1, 0, 0, 0, 1, 0} {
		t.Errorf("transform = %v, want identity", got)
	}

	rec = ts.do(t, http.MethodGet, "/d/mob/frame.png?width=32&height=32", "")
	expectStatus(t, rec, http.StatusOK)
	rec = ts.do(t, http.MethodGet, "/api/cache/stats", "")
	expectStatus(t, rec, http.StatusOK)
	var stats map[string]int
	decodeJSON(t, rec, &stats)
	if stats["frame_cache_len"] != 1 {
		t.Errorf("frame cache stats %v, want one cached frame", stats)
	}

	rec = ts.do(t, http.MethodGet, "/d/nope/api/genes", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestGeneEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/d/mob/api/genes", "")
	expectStatus(t, rec, http.StatusOK)
	var genes struct {
		Genes []service.GeneInfo `json:"genes"`
		Total int                `json:"total"`
	}
	decodeJSON(t, rec, &genes)
	if genes.Total != 2 || genes.Genes[0].Name != "Actb" || genes.Genes[0].Features != 4 {
		t.Fatalf("unexpected genes %+v", genes)
	}

	rec = ts.do(t, http.MethodPut, "/d/mob/api/genes/Gapdh", `{"selected":false,"color":"#00ff00"}`)
	expectStatus(t, rec, http.StatusOK)
	var info service.GeneInfo
	decodeJSON(t, rec, &info)
	if info.Selected || info.Color != "#00ff00" {
		t.Fatalf("unexpected gene %+v", info)
	}

	rec = ts.do(t, http.MethodPut, "/d/mob/api/genes/Nope", `{"selected":true}`)
	expectStatus(t, rec, http.StatusNotFound)
	rec = ts.do(t, http.MethodPut, "/d/mob/api/genes/Actb", `{"color":"purple"}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodPut, "/d/mob/api/genes", `{}`)
	expectStatus(t, rec, http.StatusBadRequest)
	rec = ts.do(t, http.MethodPut, "/d/mob/api/genes", `{"selected":true}`)
	expectStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec, &genes)
	for _, g := range genes.Genes {
		if !g.Selected {
			t.Fatalf("gene %s not selected", g.Name)
		}
	}
}

func TestViewEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPut, "/d/mob/api/view", `{"visual_mode":"dynamic_range","shape":"cross","upper":50}`)
	expectStatus(t, rec, http.StatusOK)
	var view service.ViewState
	decodeJSON(t, rec, &view)
	if view.VisualMode != "dynamic_range" || view.Shape != "cross" || view.Upper != 50 {
		t.Fatalf("unexpected view %+v", view)
	}

	rec = ts.do(t, http.MethodGet, "/d/mob/api/view", "")
	expectStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec, &view)
	if view.VisualMode != "dynamic_range" {
		t.Fatalf("view not persisted: %+v", view)
	}

	rec = ts.do(t, http.MethodPut, "/d/mob/api/view", `{"visual_mode":"sparkle"}`)
	expectStatus(t, rec, http.StatusBadRequest)
	rec = ts.do(t, http.MethodPut, "/d/mob/api/view", `{`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestSelectionEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/d/mob/api/selection/genes", `{"genes":["Actb"]}`)
	expectStatus(t, rec, http.StatusOK)
	var summaries summaryPayload
	decodeJSON(t, rec, &summaries)
	if summaries.Total != 1 || summaries.TotalHits != 14 || summaries.Genes[0].Name != "Actb" || summaries.Genes[0].Count != 4 || summaries.Genes[0].Hits != 14 {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	rec = ts.do(t, http.MethodPost, "/d/mob/api/selection/genes", "")
	expectStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec, &summaries)
	if summaries.Total != 2 {
		t.Fatalf("expected all selected genes, got %+v", summaries)
	}

	rec = ts.do(t, http.MethodPost, "/d/mob/api/selection/region", `{"mode":"new","rect":[0,0,25,25]}`)
	expectStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec, &summaries)
	if summaries.Total != 2 {
		t.Fatalf("unexpected region summaries %+v", summaries)
	}

	rec = ts.do(t, http.MethodPost, "/d/mob/api/selection/region", `{"mode":"exclude","polygon":[[0,0],[15,0],[15,15],[0,15]]}`)
	expectStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec, &summaries)
	if summaries.Total != 1 || summaries.Genes[0].Count != 1 || summaries.Genes[0].Hits != 3 {
		t.Fatalf("unexpected summaries after exclude %+v", summaries)
	}

	rec = ts.do(t, http.MethodGet, "/d/mob/api/selection/features?format=csv", "")
	expectStatus(t, rec, http.StatusOK)
	if body := rec.Body.String(); !strings.Contains(body, "gene,x,y,hits\nActb,20,10,3\n") || !strings.Contains(body, "# total_hits: 3") {
		t.Fatalf("unexpected export:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type %q", ct)
	}
	rec = ts.do(t, http.MethodGet, "/d/mob/api/selection/features?format=xlsx", "")
	expectStatus(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodPost, "/d/mob/api/selection/region", `{"mode":"invert","rect":[0,0,1,1]}`)
	expectStatus(t, rec, http.StatusBadRequest)
	rec = ts.do(t, http.MethodPost, "/d/mob/api/selection/genes", `{"genes":["Nope"]}`)
	expectStatus(t, rec, http.StatusNotFound)

	rec = ts.do(t, http.MethodDelete, "/d/mob/api/selection", "")
	expectStatus(t, rec, http.StatusNoContent)
	rec = ts.do(t, http.MethodGet, "/d/mob/api/selection/genes", "")
	expectStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec, &summaries)
	if summaries.Total != 0 {
		t.Fatalf("expected empty selection, got %+v", summaries)
	}
}

func TestFrameAndReport(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/d/mob/frame.png?width=32&height=16", "")
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("body is not a PNG")
	}

	rec = ts.do(t, http.MethodGet, "/d/mob/frame.png?width=abc", "")
	expectStatus(t, rec, http.StatusBadRequest)
	rec = ts.do(t, http.MethodGet, "/d/mob/frame.png?colormap=rainbow", "")
	expectStatus(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodGet, "/d/mob/api/report.html", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "mob") {
		t.Fatal("report does not name the dataset")
	}
}

func TestSavedSelectionEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	ts.do(t, http.MethodPost, "/d/mob/api/selection/genes", `{"genes":["Actb"]}`)

	rec := ts.do(t, http.MethodPost, "/d/mob/api/selections", `{"name":""}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodPost, "/d/mob/api/selections", `{"name":"actb","comment":"all of it"}`)
	expectStatus(t, rec, http.StatusCreated)
	var saved selstore.Saved
	decodeJSON(t, rec, &saved)
	if saved.ID == "" || saved.DatasetID != "mob" || len(saved.Genes) != 1 || saved.Genes[0].Hits != 14 {
		t.Fatalf("unexpected saved selection %+v", saved)
	}

	rec = ts.do(t, http.MethodGet, "/d/mob/api/selections", "")
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Selections []selstore.Saved `json:"selections"`
		Total      int              `json:"total"`
	}
	decodeJSON(t, rec, &list)
	if list.Total != 1 || list.Selections[0].Name != "actb" {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = ts.do(t, http.MethodGet, "/d/mob/api/selections/"+saved.ID, "")
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodDelete, "/d/mob/api/selections/"+saved.ID, "")
	expectStatus(t, rec, http.StatusNoContent)
	rec = ts.do(t, http.MethodGet, "/d/mob/api/selections/"+saved.ID, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestSavedSelectionsWithoutStore(t *testing.T) {
	ts := setupTestServer(t)
	registry := NewDatasetRegistry("mob", nil, "")
	registry.Register("mob", ts.svc)
	router := NewRouter(RouterConfig{Registry: registry, Quiet: true})

	req := httptest.NewRequest(http.MethodGet, "/d/mob/api/selections", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusNotImplemented)
}
