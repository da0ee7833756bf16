package services

import (
	"net/http"

	"github.com/clearfunds/backend/internal/providers"
)

// ProviderService serves the provider catalog and selection endpoints.
type ProviderService struct {
	registry *providers.Registry
}

func NewProviderService(registry *providers.Registry) *ProviderService {
	return &ProviderService{registry: registry}
}

type providerInfo struct {
	Type     providers.Type     `json:"type"`
	Features providers.Features `json:"features"`
}

// ListProviders lists registered providers with their capabilities
// @Summary List payment providers
// @Description Returns every registered provider with its capability, fee and limit metadata
// @Tags providers
// @Produce json
// @Success 200 {array} providerInfo
// @Router /providers [get]
func (ps *ProviderService) ListProviders(w http.ResponseWriter, r *http.Request) {
	types := ps.registry.Types()
	catalog := make([]providerInfo, 0, len(types))
	for _, t := range types {
		features, err := ps.registry.Features(t)
		if err != nil {
			continue
		}
		catalog = append(catalog, providerInfo{Type: t, Features: features})
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, catalog)
}

// RecommendProvider recommends a provider for the given criteria
// @Summary Recommend a provider
// @Description Applies the fixed selection policy to the supplied criteria
// @Tags providers
// @Accept json
// @Produce json
// @Param criteria body providers.Criteria true "Selection criteria"
// @Success 200 {object} providerInfo
// @Failure 400 {object} ErrorResponse
// @Router /providers/recommend [post]
func (ps *ProviderService) RecommendProvider(w http.ResponseWriter, r *http.Request) {
	var criteria providers.Criteria
	if err := decodeBody(w, r, &criteria); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	recommended := ps.registry.Recommend(criteria)
	features, err := ps.registry.Features(recommended)
	if err != nil {
		SendProviderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, providerInfo{Type: recommended, Features: features})
}
