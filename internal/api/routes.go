// Package api provides HTTP handlers for the spotview server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/report"
	"github.com/atlasmap-sc/spotview/internal/selection"
	"github.com/atlasmap-sc/spotview/internal/selstore"
	"github.com/atlasmap-sc/spotview/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	// Cache is optional; when set its statistics are served at /api/cache/stats.
	Cache *cache.Manager
	// Selections is optional; the saved-selection endpoints answer 501 without it.
	Selections *selstore.Store
	// Quiet disables the request logger.
	Quiet bool
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	if !cfg.Quiet {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	if cfg.Cache != nil {
		r.Get("/api/cache/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, cfg.Cache.Stats())
		})
	}

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Get("/frame.png", withService(frameHandler))

		r.Route("/api", func(r chi.Router) {
			r.Get("/genes", withService(genesHandler))
			r.Put("/genes", withService(selectAllGenesHandler))
			r.Put("/genes/{gene}", withService(updateGeneHandler))

			r.Get("/view", withService(viewHandler))
			r.Put("/view", withService(updateViewHandler))

			r.Post("/selection/region", withService(selectRegionHandler))
			r.Post("/selection/genes", withService(selectGenesHandler))
			r.Get("/selection/genes", withService(summariesHandler))
			r.Get("/selection/features", withService(exportFeaturesHandler))
			r.Delete("/selection", withService(clearSelectionHandler))

			r.Get("/report.html", withService(reportHandler))

			r.Route("/selections", func(r chi.Router) {
				r.Post("/", saveSelectionHandler(cfg.Selections))
				r.Get("/", listSelectionsHandler(cfg.Selections))
				r.Get("/{id}", getSelectionHandler(cfg.Selections))
				r.Delete("/{id}", deleteSelectionHandler(cfg.Selections))
			})
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the view service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.ViewService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.ViewService); ok {
		return svc
	}
	return nil
}

// withService resolves the dataset service before calling the handler built from it.
func withService(h func(*service.ViewService) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := getDatasetService(r)
		if svc == nil {
			http.Error(w, "dataset service not found", http.StatusInternalServerError)
			return
		}
		h(svc)(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps lookup failures to 404 and everything else to the fallback status.
func writeError(w http.ResponseWriter, err error, fallback int) {
	status := fallback
	if errors.Is(err, service.ErrGeneNotFound) || errors.Is(err, selstore.ErrNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

func frameHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		req := service.FrameRequest{
			Colormap:   strings.TrimSpace(query.Get("colormap")),
			Background: query.Get("background") != "0",
		}
		for name, dst := range map[string]*int{"width": &req.Width, "height": &req.Height} {
			v := strings.TrimSpace(query.Get(name))
			if v == "" {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 8192 {
				http.Error(w, "invalid "+name, http.StatusBadRequest)
				return
			}
			*dst = n
		}

		data, err := svc.Frame(req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, service.ErrUnknownColormap) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

func genesHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		genes := svc.Genes()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"genes": genes,
			"total": len(genes),
		})
	}
}

func selectAllGenesHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Selected *bool `json:"selected"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Selected == nil {
			http.Error(w, "selected is required", http.StatusBadRequest)
			return
		}
		svc.SelectAllGenes(*req.Selected)
		genes := svc.Genes()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"genes": genes,
			"total": len(genes),
		})
	}
}

func updateGeneHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.GeneUpdate
		if !decodeBody(w, r, &req) {
			return
		}
		info, err := svc.UpdateGene(chi.URLParam(r, "gene"), req)
		if err != nil {
			writeError(w, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func viewHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.View())
	}
}

func updateViewHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.ViewUpdate
		if !decodeBody(w, r, &req) {
			return
		}
		state, err := svc.UpdateView(req)
		if err != nil {
			writeError(w, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func summaryResponse(w http.ResponseWriter, svc *service.ViewService, err error) {
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	summaries, err := svc.Summaries()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"genes":      summaries,
		"total":      len(summaries),
		"total_hits": selection.TotalHits(summaries),
		"generation": svc.Generation(),
	})
}

func selectRegionHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.RegionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		_, err := svc.SelectRegion(req)
		summaryResponse(w, svc, err)
	}
}

func selectGenesHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Genes []string `json:"genes"`
		}
		// an empty body selects every selected gene
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		_, err := svc.SelectGenes(req.Genes)
		summaryResponse(w, svc, err)
	}
}

func summariesHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaryResponse(w, svc, nil)
	}
}

func clearSelectionHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.ClearSelection()
		w.WriteHeader(http.StatusNoContent)
	}
}

func reportHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := svc.ReportInput()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.Render(w, in); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func exportFeaturesHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		comma, err := report.DelimiterFor(format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		contentType := "text/tab-separated-values; charset=utf-8"
		if comma == report.Comma {
			contentType = "text/csv; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
		if err := svc.ExportFeatures(w, comma); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

type saveSelectionRequest struct {
	Name    string `json:"name"`
	Comment string `json:"comment"`
}

func saveSelectionHandler(store *selstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "selection store not configured", http.StatusNotImplemented)
			return
		}
		svc := getDatasetService(r)
		if svc == nil {
			http.Error(w, "dataset service not available", http.StatusInternalServerError)
			return
		}

		var req saveSelectionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}

		summaries, err := svc.Summaries()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		view, err := json.Marshal(svc.View())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		saved := &selstore.Saved{
			DatasetID: chi.URLParam(r, "dataset"),
			Name:      req.Name,
			Comment:   req.Comment,
			View:      view,
			Genes:     summaries,
		}
		if err := store.Save(saved); err != nil {
			http.Error(w, "failed to save selection: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func listSelectionsHandler(store *selstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "selection store not configured", http.StatusNotImplemented)
			return
		}
		list, err := store.ListByDataset(chi.URLParam(r, "dataset"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []*selstore.Saved{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"selections": list,
			"total":      len(list),
		})
	}
}

// savedForDataset loads a selection and hides selections of other datasets.
func savedForDataset(store *selstore.Store, r *http.Request) (*selstore.Saved, error) {
	saved, err := store.Get(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if saved.DatasetID != chi.URLParam(r, "dataset") {
		return nil, selstore.ErrNotFound
	}
	return saved, nil
}

func getSelectionHandler(store *selstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "selection store not configured", http.StatusNotImplemented)
			return
		}
		saved, err := savedForDataset(store, r)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func deleteSelectionHandler(store *selstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "selection store not configured", http.StatusNotImplemented)
			return
		}
		saved, err := savedForDataset(store, r)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		if err := store.Delete(saved.ID); err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
