// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/jeranaias/polychat/internal/model"
)

// pricing is the per-token pricing block in the listing, reported as
// decimal strings.
type pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// modelsResponse is the wire response for listing models.
type modelsResponse struct {
	Data []struct {
		ID            string   `json:"id"`
		Name          string   `json:"name"`
		Description   string   `json:"description"`
		ContextLength int      `json:"context_length"`
		Pricing       *pricing `json:"pricing"`
	} `json:"data"`
}

// ListModels retrieves the available models from OpenRouter and
// classifies them for selection. Variant ids containing ':' are
// dropped except the ':free' tier, which is what the comparison view
// offers by default. The result is sorted free-first, then by
// category and name.
func (c *Client) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	url := c.baseURL + "/models"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// The models endpoint does not require auth, but an authorized
	// request sees account-specific availability.
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	models := make([]model.ModelInfo, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		if skipVariant(m.ID) {
			continue
		}

		var promptPrice, completionPrice float64
		if m.Pricing != nil {
			promptPrice = parsePrice(m.Pricing.Prompt)
			completionPrice = parsePrice(m.Pricing.Completion)
		}

		name := m.Name
		if name == "" {
			name = model.FormatModelName(m.ID)
		}

		info := model.ModelInfo{
			ID:              m.ID,
			Name:            name,
			Description:     m.Description,
			ContextLength:   m.ContextLength,
			IsFree:          model.IsFreeID(m.ID, promptPrice, completionPrice),
			PromptPrice:     promptPrice,
			CompletionPrice: completionPrice,
			Category:        model.CategoryForID(m.ID),
			Provider:        model.ProviderForID(m.ID),
		}
		models = append(models, info)
	}

	sortModels(models)
	return models, nil
}

// ValidateKey checks a candidate API key by issuing an authorized
// listing request. Any failure, transport or auth, reports false.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return false
	}

	url := c.baseURL + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "polychat/0.1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// skipVariant reports whether a listing id is a routing variant that
// should not be offered for selection. Only the ':free' variant is
// kept; ':extended', ':nitro' and friends duplicate the base model.
func skipVariant(id string) bool {
	idx := strings.Index(id, ":")
	if idx < 0 {
		return false
	}
	return id[idx:] != ":free"
}

// parsePrice parses a decimal price string, tolerating blanks and junk.
func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// sortModels orders the catalog free-first, then by category, then name.
func sortModels(models []model.ModelInfo) {
	sort.SliceStable(models, func(i, j int) bool {
		if models[i].IsFree != models[j].IsFree {
			return models[i].IsFree
		}
		if models[i].Category != models[j].Category {
			return models[i].Category < models[j].Category
		}
		return models[i].Name < models[j].Name
	})
}
