// Package facts answers a seller's typed questions about its own catalog:
// stock, tier prices, certifications and negotiation policy. Every getter
// returns a default rather than an error when data is absent.
package facts

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/policy"
)

const (
	DefaultDeliveryDays   = 14
	DefaultWarrantyMonths = 12
)

// Stock is inventory held at one location.
type Stock struct {
	Location string          `json:"location"`
	Quantity int             `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
}

// TierPrice is a tier's unit price and the conditions attached to it.
type TierPrice struct {
	Price      decimal.Decimal `json:"price"`
	Conditions string          `json:"conditions,omitempty"`
}

// Source is the fact-store query contract consumed by a seller.
type Source interface {
	Inventory(productID string) []Stock
	Pricing(productID string) map[policy.Tier]TierPrice
	Certification(productID, cert string) bool
	MinAcceptablePrice(productID string) decimal.Decimal
	MaxDiscountPercent(productID string) decimal.Decimal
	DeliveryTime(productID string) int
	Warranty(productID string) int
	Specifications(productID string) map[string]string
	Strategy() string
	SystemPrompt() string
}

// TotalStock sums inventory across locations.
func TotalStock(s Source, productID string) int {
	var n int
	for _, st := range s.Inventory(productID) {
		n += st.Quantity
	}
	return n
}

// TierPrices flattens Pricing into the map the pricing policy consumes.
func TierPrices(s Source, productID string) map[policy.Tier]decimal.Decimal {
	out := make(map[policy.Tier]decimal.Decimal)
	for t, tp := range s.Pricing(productID) {
		out[t] = tp.Price
	}
	return out
}

// Product is one catalog entry.
type Product struct {
	Inventory          []Stock                   `json:"inventory"`
	Pricing            map[policy.Tier]TierPrice `json:"pricing"`
	Certifications     map[string]bool           `json:"certifications"`
	MinAcceptablePrice decimal.Decimal           `json:"min_acceptable_price"`
	MaxDiscountPercent decimal.Decimal           `json:"max_discount_percent"`
	DeliveryDays       int                       `json:"delivery_days"`
	WarrantyMonths     int                       `json:"warranty_months"`
	Specifications     map[string]string         `json:"specifications"`
}

// Catalog is a read-only, in-memory Source for one seller.
type Catalog struct {
	Seller       string             `json:"seller"`
	Products     map[string]Product `json:"products"`
	StrategyText string             `json:"strategy"`
	Prompt       string             `json:"system_prompt"`
}

var _ Source = (*Catalog)(nil)

func (c *Catalog) product(id string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.Products[id]
	return p, ok
}

func (c *Catalog) Inventory(productID string) []Stock {
	p, _ := c.product(productID)
	return append([]Stock(nil), p.Inventory...)
}

func (c *Catalog) Pricing(productID string) map[policy.Tier]TierPrice {
	p, _ := c.product(productID)
	out := make(map[policy.Tier]TierPrice, len(p.Pricing))
	for t, tp := range p.Pricing {
		out[t] = tp
	}
	return out
}

func (c *Catalog) Certification(productID, cert string) bool {
	p, _ := c.product(productID)
	return p.Certifications[cert]
}

func (c *Catalog) MinAcceptablePrice(productID string) decimal.Decimal {
	p, _ := c.product(productID)
	return p.MinAcceptablePrice
}

func (c *Catalog) MaxDiscountPercent(productID string) decimal.Decimal {
	p, _ := c.product(productID)
	return p.MaxDiscountPercent
}

func (c *Catalog) DeliveryTime(productID string) int {
	if p, ok := c.product(productID); ok && p.DeliveryDays > 0 {
		return p.DeliveryDays
	}
	return DefaultDeliveryDays
}

func (c *Catalog) Warranty(productID string) int {
	if p, ok := c.product(productID); ok && p.WarrantyMonths > 0 {
		return p.WarrantyMonths
	}
	return DefaultWarrantyMonths
}

func (c *Catalog) Specifications(productID string) map[string]string {
	p, _ := c.product(productID)
	out := make(map[string]string, len(p.Specifications))
	for k, v := range p.Specifications {
		out[k] = v
	}
	return out
}

func (c *Catalog) Strategy() string {
	if c == nil || c.StrategyText == "" {
		return "balanced"
	}
	return c.StrategyText
}

func (c *Catalog) SystemPrompt() string {
	if c == nil || c.Prompt == "" {
		return "You are a professional B2B sales agent. Be concise and state prices clearly."
	}
	return c.Prompt
}

// LoadCatalogs reads a JSON array of catalogs.
func LoadCatalogs(path string) ([]*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cs []*Catalog
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i, c := range cs {
		if c.Seller == "" {
			return nil, fmt.Errorf("parse catalog %s: entry %d has no seller", path, i)
		}
	}
	return cs, nil
}

// DemoCatalogs returns two competing sellers of "widget".
func DemoCatalogs() []*Catalog {
	p := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return []*Catalog{
		{
			Seller:       "seller_a",
			StrategyText: "premium quality, firm on price",
			Products: map[string]Product{
				"widget": {
					Inventory: []Stock{
						{Location: "warehouse_east", Quantity: 300, Cost: p("45.00")},
						{Location: "warehouse_west", Quantity: 200, Cost: p("46.50")},
					},
					Pricing: map[policy.Tier]TierPrice{
						policy.TierRetail:    {Price: p("95.00"), Conditions: "under 50 units"},
						policy.TierWholesale: {Price: p("80.00"), Conditions: "50 to 199 units"},
						policy.TierBulk:      {Price: p("72.00"), Conditions: "200 units and above"},
					},
					Certifications:     map[string]bool{"ISO9001": true, "CE": true},
					MinAcceptablePrice: p("65.00"),
					MaxDiscountPercent: p("15"),
					DeliveryDays:       7,
					WarrantyMonths:     24,
					Specifications:     map[string]string{"material": "steel", "finish": "anodized"},
				},
			},
		},
		{
			Seller:       "seller_b",
			StrategyText: "aggressive pricing, volume focused",
			Products: map[string]Product{
				"widget": {
					Inventory: []Stock{
						{Location: "main_depot", Quantity: 400, Cost: p("40.00")},
					},
					Pricing: map[policy.Tier]TierPrice{
						policy.TierRetail:    {Price: p("85.00"), Conditions: "under 50 units"},
						policy.TierWholesale: {Price: p("76.00"), Conditions: "50 to 199 units"},
						policy.TierBulk:      {Price: p("68.50"), Conditions: "200 units and above"},
					},
					Certifications:     map[string]bool{"ISO9001": true},
					MinAcceptablePrice: p("60.00"),
					MaxDiscountPercent: p("20"),
					DeliveryDays:       10,
					WarrantyMonths:     12,
					Specifications:     map[string]string{"material": "steel"},
				},
			},
		},
	}
}
