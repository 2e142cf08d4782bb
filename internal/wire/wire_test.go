package wire

import (
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/domain/product"
)

func encode(fn func(e *jx.Encoder)) string {
	var e jx.Encoder
	fn(&e)
	return string(e.Bytes())
}

func TestDecodePlaceOrder(t *testing.T) {
	req, err := DecodePlaceOrder([]byte(`{
		"items": [{"productId": "albizia", "quantity": 2}, {"productId": "ficus", "quantity": 1, "extra": true}],
		"customerDetails": {
			"firstName": "Nok", "lastName": "Srisuk", "address": "12 Sukhumvit Rd",
			"phone": "0812345678", "deliveryMethod": "ems", "paymentMethod": "promptpay"
		},
		"userId": null,
		"idempotencyKey": "k-1"
	}`))
	require.NoError(t, err)

	assert.Equal(t, []order.Item{{ProductID: "albizia", Quantity: 2}, {ProductID: "ficus", Quantity: 1}}, req.Items)
	require.NotNil(t, req.Customer)
	assert.Equal(t, order.DeliveryEMS, req.Customer.DeliveryMethod)
	assert.Equal(t, order.PaymentPromptPay, req.Customer.PaymentMethod)
	assert.Equal(t, "Nok", req.Customer.FirstName)
	assert.Nil(t, req.UserID)
	assert.Equal(t, "k-1", req.IdempotencyKey)
}

func TestDecodePlaceOrder_Partial(t *testing.T) {
	req, err := DecodePlaceOrder([]byte(`{"userId":"u-7","customerDetails":null}`))
	require.NoError(t, err)
	assert.Empty(t, req.Items)
	assert.Nil(t, req.Customer)
	require.NotNil(t, req.UserID)
	assert.Equal(t, "u-7", *req.UserID)
}

func TestDecodePlaceOrder_Invalid(t *testing.T) {
	for _, body := range []string{
		``,
		`[]`,
		`{"items":{}}`,
		`{"items":[{"productId":"a","quantity":"2"}]}`,
		`{"items":[{"productId":"a","quantity":1.5}]}`,
		`{"userId":12}`,
		`{"customerDetails":"x"}`,
		`{"items":[`,
	} {
		t.Run(body, func(t *testing.T) {
			_, err := DecodePlaceOrder([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestEncodePlaceOrder(t *testing.T) {
	user := "u-1"
	got := encode(func(e *jx.Encoder) {
		EncodePlaceOrder(e, order.PlaceOrderRequest{
			Items: []order.Item{{ProductID: "bonsai", Quantity: 1}},
			Customer: &order.CustomerDetails{
				FirstName: "A", LastName: "B", Address: "C", Phone: "D",
				DeliveryMethod: order.DeliveryPickup, PaymentMethod: order.PaymentCash,
				PickupLocation: "Chatuchak",
			},
			UserID: &user,
		})
	})
	assert.JSONEq(t, `{
		"items":[{"productId":"bonsai","quantity":1}],
		"customerDetails":{"firstName":"A","lastName":"B","address":"C","phone":"D",
			"deliveryMethod":"pickup","paymentMethod":"cash","pickupLocation":"Chatuchak"},
		"userId":"u-1"
	}`, got)

	req, err := DecodePlaceOrder([]byte(got))
	require.NoError(t, err)
	assert.Equal(t, "Chatuchak", req.Customer.PickupLocation)
}

func TestProducts(t *testing.T) {
	ps := []product.Product{
		{ID: "albizia", Name: "Albizia", Price: decimal.RequireFromString("1250"), Stock: 3},
		{ID: "ficus", Name: "Ficus", Price: decimal.RequireFromString("89.9"), Stock: 0},
	}
	got := encode(func(e *jx.Encoder) { EncodeProducts(e, ps) })
	assert.JSONEq(t, `[
		{"id":"albizia","name":"Albizia","price":1250.00,"stock":3},
		{"id":"ficus","name":"Ficus","price":89.90,"stock":0}
	]`, got)
	assert.Contains(t, got, `"price":89.90`)

	back, err := DecodeProducts([]byte(got))
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.True(t, ps[1].Price.Equal(back[1].Price))
	assert.Equal(t, 0, back[1].Stock)

	empty, err := DecodeProducts([]byte(`[]`))
	require.NoError(t, err)
	assert.NotNil(t, empty)

	_, err = DecodeProduct([]byte(`{"id":"x","price":"free"}`))
	assert.Error(t, err)
}

func TestError(t *testing.T) {
	got := encode(func(e *jx.Encoder) {
		EncodeError(e, Error{
			Message:   "Insufficient stock for Albizia",
			Code:      CodeInsufficientStock,
			ProductID:   "albizia",
			ProductName: "Albizia",
			Available:   0,
			Requested:   3,
		})
	})
	assert.JSONEq(t, `{"message":"Insufficient stock for Albizia","code":"insufficient_stock","productId":"albizia",`+
		`"productName":"Albizia","available":0,"requested":3}`, got)

	v, err := DecodeError([]byte(got))
	require.NoError(t, err)
	assert.Equal(t, CodeInsufficientStock, v.Code)
	assert.Equal(t, "albizia", v.ProductID)
	assert.Equal(t, "Albizia", v.ProductName)
	assert.Equal(t, 3, v.Requested)

	got = encode(func(e *jx.Encoder) { EncodeError(e, Error{Message: "Failed to submit order"}) })
	assert.JSONEq(t, `{"message":"Failed to submit order"}`, got)
}

func TestOrderPlaced(t *testing.T) {
	got := encode(func(e *jx.Encoder) {
		EncodeOrderPlaced(e, OrderPlaced{Message: "Order submitted successfully", OrderID: "o-1"})
	})
	assert.JSONEq(t, `{"message":"Order submitted successfully","orderId":"o-1","replayed":false}`, got)

	v, err := DecodeOrderPlaced([]byte(got))
	require.NoError(t, err)
	assert.Equal(t, "o-1", v.OrderID)

	_, err = DecodeOrderPlaced([]byte(`{"message":"ok"}`))
	assert.Error(t, err)
}

func TestOrder(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	o := &order.Order{
		ID:     "o-1",
		Status: order.StatusPending,
		Lines: []order.LineSnapshot{
			{ProductID: "albizia", ProductName: "Albizia", Quantity: 2, UnitPrice: decimal.RequireFromString("1250")},
			{ProductID: "ficus", ProductName: "Ficus", Quantity: 1, UnitPrice: decimal.RequireFromString("89.90")},
		},
		Customer: order.CustomerDetails{
			FirstName: "A", LastName: "B", Address: "C", Phone: "D",
			DeliveryMethod: order.DeliveryCourier, PaymentMethod: order.PaymentBank,
		},
		IdempotencyKey: "secret",
		CreatedAt:      created,
	}
	got := encode(func(e *jx.Encoder) { EncodeOrder(e, o) })
	assert.Contains(t, got, `"total":2589.90`)
	assert.Contains(t, got, `"userId":null`)
	assert.NotContains(t, got, "secret")

	back, err := DecodeOrder([]byte(got))
	require.NoError(t, err)
	assert.Equal(t, o.ID, back.ID)
	assert.Equal(t, o.Status, back.Status)
	assert.Equal(t, o.Customer, back.Customer)
	assert.True(t, created.Equal(back.CreatedAt))
	require.Len(t, back.Lines, 2)
	assert.True(t, o.Total().Equal(back.Total()))
}
