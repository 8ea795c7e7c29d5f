package handler

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/address"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/domain/quote"
)

func money(d decimal.Decimal) string { return d.StringFixed(2) }

type lineItemResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
}

type cartResponse struct {
	Mode         string             `json:"mode"`
	ServerCartID string             `json:"server_cart_id,omitempty"`
	Items        []lineItemResponse `json:"items"`
	Subtotal     string             `json:"subtotal"`
	TotalCount   int                `json:"total_count"`
	DrawerOpen   bool               `json:"drawer_open"`
}

func toCartResponse(st cart.State) cartResponse {
	items := make([]lineItemResponse, 0, len(st.Items))
	for _, l := range st.Items {
		items = append(items, lineItemResponse{
			ID:        l.ID,
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: money(l.UnitPrice),
			Total:     money(l.Total()),
		})
	}
	return cartResponse{
		Mode:         string(st.Mode),
		ServerCartID: st.ServerCartID,
		Items:        items,
		Subtotal:     money(st.Subtotal),
		TotalCount:   st.TotalCount,
		DrawerOpen:   st.DrawerOpen,
	}
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type drawerRequest struct {
	Open bool `json:"open"`
}

type addressDTO struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a addressDTO) toDomain() address.Address {
	return address.Address(a)
}

func toAddressDTO(a address.Address) addressDTO {
	return addressDTO(a)
}

type couponRequest struct {
	Code string `json:"code"`
}

type shippingMethodRequest struct {
	Method string `json:"method"`
}

type backRequest struct {
	To string `json:"to,omitempty"`
}

type confirmRequest struct {
	Token      string `json:"token"`
	HolderName string `json:"holder_name"`
}

type parcelResponse struct {
	WeightGrams int `json:"weight_grams"`
	LengthCM    int `json:"length_cm"`
	WidthCM     int `json:"width_cm"`
	HeightCM    int `json:"height_cm"`
}

type quoteResponse struct {
	Regular string          `json:"regular"`
	Express string          `json:"express"`
	Parcel  *parcelResponse `json:"parcel,omitempty"`
}

type totalsResponse struct {
	Subtotal    string `json:"subtotal"`
	Discount    string `json:"discount"`
	Shipping    string `json:"shipping"`
	Tax         string `json:"tax"`
	Total       string `json:"total"`
	CouponCode  string `json:"coupon_code,omitempty"`
	Provisional bool   `json:"provisional"`
}

type authorizationResponse struct {
	ID string `json:"id"`
}

type checkoutResponse struct {
	Phase          string                 `json:"phase"`
	Address        *addressDTO            `json:"address,omitempty"`
	CouponCode     string                 `json:"coupon_code,omitempty"`
	ShippingMethod string                 `json:"shipping_method"`
	Quote          *quoteResponse         `json:"quote,omitempty"`
	Authorization  *authorizationResponse `json:"authorization,omitempty"`
	Totals         totalsResponse         `json:"totals"`
	Completed      bool                   `json:"completed"`
	Notice         string                 `json:"notice,omitempty"`
	Slow           bool                   `json:"slow"`
}

func toCheckoutResponse(s checkout.Session) checkoutResponse {
	resp := checkoutResponse{
		Phase:          string(s.Phase),
		CouponCode:     s.CouponCode,
		ShippingMethod: string(s.ShippingMethod),
		Totals:         toTotalsResponse(s.Totals),
		Completed:      s.Completed,
		Notice:         s.Notice,
		Slow:           s.Slow,
	}
	if !s.Address.IsZero() {
		a := toAddressDTO(s.Address)
		resp.Address = &a
	}
	if s.Quote != nil {
		resp.Quote = toQuoteResponse(*s.Quote)
	}
	if s.Authorization != nil {
		resp.Authorization = &authorizationResponse{ID: s.Authorization.ID}
	}
	return resp
}

func toQuoteResponse(q quote.Quote) *quoteResponse {
	resp := &quoteResponse{
		Regular: money(q.Regular),
		Express: money(q.Express),
	}
	if q.Parcel != nil {
		resp.Parcel = &parcelResponse{
			WeightGrams: q.Parcel.WeightGrams,
			LengthCM:    q.Parcel.LengthCM,
			WidthCM:     q.Parcel.WidthCM,
			HeightCM:    q.Parcel.HeightCM,
		}
	}
	return resp
}

func toTotalsResponse(t checkout.Totals) totalsResponse {
	return totalsResponse{
		Subtotal:    money(t.Subtotal),
		Discount:    money(t.Discount),
		Shipping:    money(t.Shipping),
		Tax:         money(t.Tax),
		Total:       money(t.Total),
		CouponCode:  t.CouponCode,
		Provisional: t.Provisional,
	}
}

type imageResponse struct {
	Thumbnail string `json:"thumbnail,omitempty"`
	Desktop   string `json:"desktop,omitempty"`
}

type productResponse struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Price    string        `json:"price"`
	Category string        `json:"category"`
	Image    imageResponse `json:"image"`
}

func (h *Handler) toProductResponse(p *product.Product) productResponse {
	return productResponse{
		ID:       p.ID,
		Name:     p.Name,
		Price:    money(p.Price),
		Category: p.Category,
		Image: imageResponse{
			Thumbnail: h.imageURL(p.Image.Thumbnail),
			Desktop:   h.imageURL(p.Image.Desktop),
		},
	}
}

// imageURL prefixes relative image paths with the configured base URL.
func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimPrefix(path, "/")
}
