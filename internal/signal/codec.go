package signal

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Encode returns the wire form of ev:
//
//	{"orderId":"...","occurredAt":"2006-01-02T15:04:05Z","levels":[{"productId":"...","stock":3}]}
func Encode(ev StockChanged) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(ev.OrderID)
	e.FieldStart("occurredAt")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("levels")
	e.ArrStart()
	for _, l := range ev.Levels {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("stock")
		e.Int(l.Stock)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// Decode parses an event produced by Encode. Unknown fields are ignored.
func Decode(data []byte) (StockChanged, error) {
	var ev StockChanged
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "orderId":
			s, err := d.Str()
			ev.OrderID = s
			return err
		case "occurredAt":
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return errors.Wrap(err, "occurredAt")
			}
			ev.OccurredAt = t
			return nil
		case "levels":
			return d.Arr(func(d *jx.Decoder) error {
				var l StockLevel
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "productId":
						s, err := d.Str()
						l.ProductID = s
						return err
					case "stock":
						n, err := d.Int()
						l.Stock = n
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				ev.Levels = append(ev.Levels, l)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return StockChanged{}, errors.Wrap(err, "decode stock changed")
	}
	return ev, nil
}
