package types

import "github.com/shopspring/decimal"

// Product is a sellable item the catalog can identify.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// CatalogEntry is one labeled reference image of a product.
type CatalogEntry struct {
	EntryID    int64  `json:"entry_id"`
	ProductID  int64  `json:"product_id"`
	StorageKey string `json:"storage_key"`
}

// Match is one ranked candidate of a nearest-neighbor query.
type Match struct {
	EntryID    int64   `json:"entry_id"`
	ProductID  int64   `json:"product_id"`
	StorageKey string  `json:"storage_key"`
	Distance   float64 `json:"distance"`
}

// QueryResult holds candidates ordered by ascending distance.
type QueryResult []Match

// Best returns the top-ranked candidate.
func (r QueryResult) Best() (Match, bool) {
	if len(r) == 0 {
		return Match{}, false
	}
	return r[0], true
}

// Identification is the outcome of identifying a product photo.
type Identification struct {
	Best       Match       `json:"best"`
	Product    *Product    `json:"product,omitempty"`
	Candidates QueryResult `json:"candidates"`
	NoObject   bool        `json:"no_object"`
	Quality    float64     `json:"quality"`
}
