package api

import (
	"github.com/atlasmap-sc/spotview/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Genes    int    `json:"genes"`
	Features int    `json:"features"`
	// Transform maps dataset coordinates to tissue image pixels.
	Transform [6]float64 `json:"transform"`
}

// DatasetRegistry holds view services for all configured datasets.
type DatasetRegistry struct {
	services       map[string]*service.ViewService
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.ViewService),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds a view service for a dataset.
func (r *DatasetRegistry) Register(datasetID string, svc *service.ViewService) {
	if _, ok := r.services[datasetID]; !ok && !contains(r.datasetOrder, datasetID) {
		r.datasetOrder = append(r.datasetOrder, datasetID)
	}
	r.services[datasetID] = svc
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Get returns the view service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.ViewService {
	return r.services[datasetID]
}

// Default returns the default dataset's view service.
func (r *DatasetRegistry) Default() *service.ViewService {
	return r.services[r.defaultDataset]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "spotview"
}

// Close closes every registered service.
func (r *DatasetRegistry) Close() {
	for _, svc := range r.services {
		svc.Close()
	}
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		svc := r.services[id]
		if svc == nil {
			continue
		}
		ds := svc.Dataset()
		name := ds.Name
		if name == "" {
			name = id
		}
		infos = append(infos, DatasetInfo{
			ID:       id,
			Name:     name,
			Genes:     len(ds.Genes),
			Features:  len(ds.Features),
			Transform: ds.Transform.Coefficients(),
		})
	}
	return infos
}
