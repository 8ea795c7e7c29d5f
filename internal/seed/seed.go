// Package seed decodes the demo catalog used by the seed tool and by the
// in-memory backend.
package seed

import (
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/db"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Rate is the shipping rate of a country; "*" is the default.
type Rate struct {
	Country string          `json:"country"`
	Regular decimal.Decimal `json:"regular"`
	Express decimal.Decimal `json:"express"`
	PerItem decimal.Decimal `json:"per_item"`
}

// Data is a decoded catalog.
type Data struct {
	Products []product.Product
	// Stock is the available quantity per product id.
	Stock   map[string]int
	Coupons []coupon.Rule
	Rates   []Rate
}

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	WeightGrams int             `json:"weight_grams"`
	Stock       int             `json:"stock"`
	Image       struct {
		Thumbnail string `json:"thumbnail"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

type couponJSON struct {
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	MinItems     int             `json:"min_items"`
	Description  string          `json:"description"`
	Inactive     bool            `json:"inactive"`
	MaxUses      int             `json:"max_uses"`
	MaxDiscount  decimal.Decimal `json:"max_discount"`
}

type catalogJSON struct {
	Products []productJSON `json:"products"`
	Coupons  []couponJSON  `json:"coupons"`
	Rates    []Rate        `json:"shipping_rates"`
}

// Default decodes the embedded demo catalog.
func Default() (*Data, error) {
	return Load(db.Catalog)
}

// Load decodes a catalog document.
func Load(raw []byte) (*Data, error) {
	var doc catalogJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}

	data := &Data{
		Products: make([]product.Product, 0, len(doc.Products)),
		Stock:    make(map[string]int, len(doc.Products)),
		Coupons:  make([]coupon.Rule, 0, len(doc.Coupons)),
		Rates:    doc.Rates,
	}
	for _, p := range doc.Products {
		if p.ID == "" {
			return nil, errors.New("product without id")
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %s: negative price", p.ID)
		}
		data.Products = append(data.Products, product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Price:       p.Price,
			Category:    p.Category,
			WeightGrams: p.WeightGrams,
			StockHint:   p.Stock,
			Image:       product.Image{Thumbnail: p.Image.Thumbnail, Desktop: p.Image.Desktop},
		})
		data.Stock[p.ID] = p.Stock
	}

	for _, c := range doc.Coupons {
		typ := coupon.DiscountType(strings.ToLower(c.DiscountType))
		switch typ {
		case coupon.DiscountPercentage, coupon.DiscountFixed, coupon.DiscountFreeLowest:
		default:
			return nil, errors.Errorf("coupon %s: unknown discount type %q", c.Code, c.DiscountType)
		}
		data.Coupons = append(data.Coupons, coupon.Rule{
			Code:         strings.ToUpper(c.Code),
			DiscountType: typ,
			Value:        c.Value,
			MinItems:     c.MinItems,
			Description:  c.Description,
			Active:       !c.Inactive,
			MaxUses:      c.MaxUses,
			MaxDiscount:  c.MaxDiscount,
		})
	}
	return data, nil
}
