package basket

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// State is the persisted basket: its lines and the idempotency key of the
// checkout pending for exactly these lines, if any.
type State struct {
	Items       []Item
	CheckoutKey string
}

// Encode returns the persisted form of s:
//
//	{"items":[{"productId":"...","quantity":1}],"checkoutKey":"..."}
//
// checkoutKey is omitted when empty.
func Encode(s State) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range s.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	if s.CheckoutKey != "" {
		e.FieldStart("checkoutKey")
		e.Str(s.CheckoutKey)
	}
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// Decode parses a persisted basket. Besides the form written by Encode it
// accepts a versioned envelope {"state":{"items":[...]},"version":N}.
// Invalid entries are dropped; only a malformed document is an error.
func Decode(data []byte) (State, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return State{}, errors.New("basket: expected object")
	}

	var (
		s    State
		seen = make(map[string]struct{})
	)
	if err := decodeState(d, &s, func(it Item) {
		if _, ok := seen[it.ProductID]; ok {
			return
		}
		seen[it.ProductID] = struct{}{}
		s.Items = append(s.Items, it)
	}); err != nil {
		return State{}, errors.Wrap(err, "basket")
	}
	return s, nil
}

func decodeState(d *jx.Decoder, s *State, add func(Item)) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "checkoutKey":
			if d.Next() != jx.String {
				return d.Skip()
			}
			k, err := d.Str()
			if err != nil {
				return err
			}
			s.CheckoutKey = k
			return nil
		case "items":
			if d.Next() != jx.Array {
				return d.Skip()
			}
			return d.Arr(func(d *jx.Decoder) error {
				if d.Next() != jx.Object {
					return d.Skip()
				}
				it, ok, err := decodeItem(d)
				if err != nil {
					return err
				}
				if ok {
					add(it)
				}
				return nil
			})
		case "state":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return decodeState(d, s, add)
		default:
			return d.Skip()
		}
	})
}

func decodeItem(d *jx.Decoder) (Item, bool, error) {
	var (
		it    Item
		idOK  bool
		qtyOK bool
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			it.ProductID, idOK = s, s != ""
			return nil
		case "quantity":
			if d.Next() != jx.Number {
				return d.Skip()
			}
			n, err := d.Num()
			if err != nil {
				return err
			}
			if !n.IsInt() {
				return nil
			}
			v, err := n.Int64()
			if err != nil || v <= 0 || v > math.MaxInt32 {
				return nil
			}
			it.Quantity, qtyOK = int(v), true
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Item{}, false, err
	}
	return it, idOK && qtyOK, nil
}
