package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket es un mercado moneyline de Gamma. Los campos clobTokenIds y
// outcomes llegan como strings que contienen JSON arrays anidados.
type gammaMarket struct {
	ConditionID    string      `json:"conditionId"`
	Question       string      `json:"question"`
	Slug           string      `json:"slug"`
	ClobTokenIDs   string      `json:"clobTokenIds"`
	Outcomes       string      `json:"outcomes"`
	OutcomePrices  string      `json:"outcomePrices"`
	GameStartTime  string      `json:"gameStartTime"`
	EndDateISO     string      `json:"endDateIso"`
	Volume24h      json.Number `json:"volume24hr"`
	NegRisk        bool        `json:"negRisk"`
	Active         bool        `json:"active"`
	Closed         bool        `json:"closed"`
}

// --- CLOB API ---

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor
// precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// clobNegRiskResponse es la respuesta de GET /neg-risk.
type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}
