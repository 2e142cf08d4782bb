// Package wire implements the JSON bodies of the HTTP API. The server and the
// storefront client share it, so both sides agree on field names.
package wire

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/domain/product"
)

// Error codes carried in Error.Code.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeValidation        = "validation"
	CodeNotFound          = "not_found"
	CodeProductNotFound   = "product_not_found"
	CodeInsufficientStock = "insufficient_stock"
	CodeCommitFailed      = "commit_failed"
	CodeInternal          = "internal"
)

// Error is the body of every non-2xx response.
type Error struct {
	Message   string
	Code      string
	Field     string
	ProductID string
	// ProductName, Available and Requested are set for insufficient stock.
	ProductName string
	Available   int
	Requested   int
}

// OrderPlaced is the body of a successful POST /api/orders.
type OrderPlaced struct {
	Message  string
	OrderID  string
	Replayed bool
}

// EncodeError writes {"message":"...","code":"..."} plus the optional fields
// that are set.
func EncodeError(e *jx.Encoder, v Error) {
	e.ObjStart()
	e.FieldStart("message")
	e.Str(v.Message)
	if v.Code != "" {
		e.FieldStart("code")
		e.Str(v.Code)
	}
	if v.Field != "" {
		e.FieldStart("field")
		e.Str(v.Field)
	}
	if v.ProductID != "" {
		e.FieldStart("productId")
		e.Str(v.ProductID)
	}
	if v.Code == CodeInsufficientStock {
		if v.ProductName != "" {
			e.FieldStart("productName")
			e.Str(v.ProductName)
		}
		e.FieldStart("available")
		e.Int(v.Available)
		e.FieldStart("requested")
		e.Int(v.Requested)
	}
	e.ObjEnd()
}

// DecodeError parses an error body.
func DecodeError(data []byte) (Error, error) {
	var v Error
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "message":
			v.Message, err = d.Str()
		case "code":
			v.Code, err = d.Str()
		case "field":
			v.Field, err = d.Str()
		case "productId":
			v.ProductID, err = d.Str()
		case "productName":
			v.ProductName, err = d.Str()
		case "available":
			v.Available, err = d.Int()
		case "requested":
			v.Requested, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Error{}, errors.Wrap(err, "decode error body")
	}
	return v, nil
}

// EncodeOrderPlaced writes {"message":"...","orderId":"...","replayed":false}.
func EncodeOrderPlaced(e *jx.Encoder, v OrderPlaced) {
	e.ObjStart()
	e.FieldStart("message")
	e.Str(v.Message)
	e.FieldStart("orderId")
	e.Str(v.OrderID)
	e.FieldStart("replayed")
	e.Bool(v.Replayed)
	e.ObjEnd()
}

// DecodeOrderPlaced parses the body written by EncodeOrderPlaced.
func DecodeOrderPlaced(data []byte) (OrderPlaced, error) {
	var v OrderPlaced
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "message":
			v.Message, err = d.Str()
		case "orderId":
			v.OrderID, err = d.Str()
		case "replayed":
			v.Replayed, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return OrderPlaced{}, errors.Wrap(err, "decode order placed")
	}
	if v.OrderID == "" {
		return OrderPlaced{}, errors.New("decode order placed: missing orderId")
	}
	return v, nil
}

// EncodeProduct writes {"id","name","price","stock"}. The price is written
// as an exact decimal number.
func EncodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Num(jx.Num(p.Price.StringFixed(2)))
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.ObjEnd()
}

// EncodeProducts writes a JSON array of products.
func EncodeProducts(e *jx.Encoder, ps []product.Product) {
	e.ArrStart()
	for _, p := range ps {
		EncodeProduct(e, p)
	}
	e.ArrEnd()
}

// DecodeProduct parses the body written by EncodeProduct.
func DecodeProduct(data []byte) (product.Product, error) {
	p, err := decodeProduct(jx.DecodeBytes(data))
	if err != nil {
		return product.Product{}, errors.Wrap(err, "decode product")
	}
	return p, nil
}

// DecodeProducts parses the body written by EncodeProducts.
func DecodeProducts(data []byte) ([]product.Product, error) {
	out := []product.Product{}
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return out, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "stock":
			p.Stock, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "decimal")
	}
	return v, nil
}

// EncodePlaceOrder writes the body of POST /api/orders.
func EncodePlaceOrder(e *jx.Encoder, req order.PlaceOrderRequest) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range req.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	if req.Customer != nil {
		e.FieldStart("customerDetails")
		encodeCustomer(e, *req.Customer)
	}
	e.FieldStart("userId")
	if req.UserID != nil {
		e.Str(*req.UserID)
	} else {
		e.Null()
	}
	if req.IdempotencyKey != "" {
		e.FieldStart("idempotencyKey")
		e.Str(req.IdempotencyKey)
	}
	e.ObjEnd()
}

// DecodePlaceOrder parses the body of POST /api/orders. Type mismatches are
// errors; missing fields are left zero for the order service to reject.
func DecodePlaceOrder(data []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return req, errors.New("decode order request: expected object")
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "items":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				var it order.Item
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "productId":
						it.ProductID, err = d.Str()
					case "quantity":
						it.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "customerDetails":
			if d.Next() == jx.Null {
				return d.Null()
			}
			c, err := decodeCustomer(d)
			if err != nil {
				return errors.Wrap(err, "customerDetails")
			}
			req.Customer = &c
			return nil
		case "userId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			req.UserID = &s
			return nil
		case "idempotencyKey":
			s, err := d.Str()
			req.IdempotencyKey = s
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return order.PlaceOrderRequest{}, errors.Wrap(err, "decode order request")
	}
	return req, nil
}

func encodeCustomer(e *jx.Encoder, c order.CustomerDetails) {
	e.ObjStart()
	e.FieldStart("firstName")
	e.Str(c.FirstName)
	e.FieldStart("lastName")
	e.Str(c.LastName)
	e.FieldStart("address")
	e.Str(c.Address)
	e.FieldStart("phone")
	e.Str(c.Phone)
	e.FieldStart("deliveryMethod")
	e.Str(string(c.DeliveryMethod))
	e.FieldStart("paymentMethod")
	e.Str(string(c.PaymentMethod))
	if c.PickupLocation != "" {
		e.FieldStart("pickupLocation")
		e.Str(c.PickupLocation)
	}
	e.ObjEnd()
}

func decodeCustomer(d *jx.Decoder) (order.CustomerDetails, error) {
	var c order.CustomerDetails
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var (
			s   string
			err error
		)
		switch string(key) {
		case "firstName":
			c.FirstName, err = d.Str()
		case "lastName":
			c.LastName, err = d.Str()
		case "address":
			c.Address, err = d.Str()
		case "phone":
			c.Phone, err = d.Str()
		case "deliveryMethod":
			s, err = d.Str()
			c.DeliveryMethod = order.DeliveryMethod(s)
		case "paymentMethod":
			s, err = d.Str()
			c.PaymentMethod = order.PaymentMethod(s)
		case "pickupLocation":
			c.PickupLocation, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

// EncodeOrder writes a committed order. The idempotency key is not exposed.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("productName")
		e.Str(l.ProductName)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unitPrice")
		e.Num(jx.Num(l.UnitPrice.StringFixed(2)))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Num(jx.Num(o.Total().StringFixed(2)))
	e.FieldStart("customerDetails")
	encodeCustomer(e, o.Customer)
	e.FieldStart("userId")
	if o.UserID != nil {
		e.Str(*o.UserID)
	} else {
		e.Null()
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// DecodeOrder parses the body written by EncodeOrder. The total is derived
// from the lines and not read back.
func DecodeOrder(data []byte) (*order.Order, error) {
	o := &order.Order{}
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			s, err := d.Str()
			o.ID = s
			return err
		case "status":
			s, err := d.Str()
			o.Status = order.Status(s)
			return err
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				var l order.LineSnapshot
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "productId":
						l.ProductID, err = d.Str()
					case "productName":
						l.ProductName, err = d.Str()
					case "quantity":
						l.Quantity, err = d.Int()
					case "unitPrice":
						l.UnitPrice, err = decodeDecimal(d)
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				o.Lines = append(o.Lines, l)
				return nil
			})
		case "customerDetails":
			c, err := decodeCustomer(d)
			o.Customer = c
			return err
		case "userId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			o.UserID = &s
			return nil
		case "createdAt":
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return errors.Wrap(err, "createdAt")
			}
			o.CreatedAt = t
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return o, nil
}
