package main

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/storefront"
)

func newCheckoutCommand(opts *options) *cobra.Command {
	var (
		customer order.CustomerDetails
		delivery string
		payment  string
		userID   string
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Submit the basket as an order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			customer.DeliveryMethod = order.DeliveryMethod(delivery)
			customer.PaymentMethod = order.PaymentMethod(payment)
			var uid *string
			if userID != "" {
				uid = &userID
			}

			s, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			receipt, err := s.front.Checkout(cmd.Context(), customer, uid)
			var insufficient *order.InsufficientStockError
			if errors.As(err, &insufficient) {
				fmt.Fprintf(out, "%s is short: only %d left. Your basket was kept; current stock:\n",
					insufficient.ProductName, insufficient.Available)
				_ = s.printBasket(out)
				return err
			}
			var short *storefront.ShortfallError
			if errors.As(err, &short) {
				_ = s.printBasket(out)
				return err
			}
			if err != nil {
				return err
			}

			verb := "placed"
			if receipt.Replayed {
				verb = "already placed"
			}
			_, err = fmt.Fprintf(out, "order %s %s, subtotal %s\n", receipt.OrderID, verb, receipt.Subtotal.StringFixed(2))
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&customer.FirstName, "first-name", "", "recipient first name")
	f.StringVar(&customer.LastName, "last-name", "", "recipient last name")
	f.StringVar(&customer.Address, "address", "", "delivery address")
	f.StringVar(&customer.Phone, "phone", "", "contact phone")
	f.StringVar(&customer.PickupLocation, "pickup-location", "", "pickup location when delivery is pickup")
	f.StringVar(&delivery, "delivery", string(order.DeliveryPickup), "delivery method: pickup, ems, courier or same-day")
	f.StringVar(&payment, "payment", string(order.PaymentCash), "payment method: bank, promptpay or cash")
	f.StringVar(&userID, "user-id", "", "signed-in user id (guest checkout when empty)")
	for _, name := range []string{"first-name", "last-name", "address", "phone"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
