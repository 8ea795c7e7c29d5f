package cart

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// guestVersion is bumped when the persisted guest payload changes shape.
const guestVersion = 1

// EncodeGuest serializes guest lines for slot storage.
func EncodeGuest(items []LineItem) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("v", func(e *jx.Encoder) { e.Int(guestVersion) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range items {
					encodeLine(e, item)
				}
			})
		})
	})
	return e.Bytes()
}

func encodeLine(e *jx.Encoder, item LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(item.ID) })
		e.Field("product_id", func(e *jx.Encoder) { e.Str(item.ProductID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
		e.Field("unit_price", func(e *jx.Encoder) { e.Str(item.UnitPrice.String()) })
		if item.StockHint > 0 {
			e.Field("stock_hint", func(e *jx.Encoder) { e.Int(item.StockHint) })
		}
	})
}

// DecodeGuest parses a payload produced by EncodeGuest. Unknown fields are
// skipped so older readers tolerate newer payloads.
func DecodeGuest(data []byte) ([]LineItem, error) {
	var (
		items   []LineItem
		version int
	)
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "v":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "version")
			}
			version = v
			return nil
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeLine(d)
				if err != nil {
					return err
				}
				items = append(items, item)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode guest cart")
	}
	if version > guestVersion {
		return nil, errors.Errorf("unsupported guest cart version %d", version)
	}
	return items, nil
}

func decodeLine(d *jx.Decoder) (LineItem, error) {
	var item LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			item.ID, err = d.Str()
		case "product_id":
			item.ProductID, err = d.Str()
		case "name":
			item.Name, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		case "stock_hint":
			item.StockHint, err = d.Int()
		case "unit_price":
			var s string
			if s, err = d.Str(); err == nil {
				item.UnitPrice, err = decimal.NewFromString(s)
			}
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return item, err
}
