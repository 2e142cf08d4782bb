package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
)

func newBasketCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "basket",
		Short: "Manage the basket",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the basket priced with the current catalog",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := opts.open(cmd.Context(), true)
				if err != nil {
					return err
				}
				return s.printBasket(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "add <product-id> [quantity]",
			Short: "Add units of a product, capped at the stock on hand",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				qty := 1
				if len(args) == 2 {
					n, err := parseQuantity(args[1])
					if err != nil {
						return err
					}
					qty = n
				}
				s, err := opts.open(cmd.Context(), true)
				if err != nil {
					return err
				}
				got, err := s.front.Add(args[0], qty)
				if err != nil {
					return err
				}
				return reportQuantity(cmd.OutOrStdout(), args[0], got)
			},
		},
		&cobra.Command{
			Use:   "update <product-id> <quantity>",
			Short: "Set the quantity of a basket line",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				qty, err := parseQuantity(args[1])
				if err != nil {
					return err
				}
				s, err := opts.open(cmd.Context(), true)
				if err != nil {
					return err
				}
				got, err := s.front.Update(args[0], qty)
				if err != nil {
					return err
				}
				return reportQuantity(cmd.OutOrStdout(), args[0], got)
			},
		},
		&cobra.Command{
			Use:   "remove <product-id>",
			Short: "Drop a line from the basket",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := opts.open(cmd.Context(), false)
				if err != nil {
					return err
				}
				s.front.Remove(args[0])
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return err
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the basket",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := opts.open(cmd.Context(), false)
				if err != nil {
					return err
				}
				s.front.Basket().Clear()
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "basket cleared")
				return err
			},
		},
	)
	return cmd
}

func parseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("quantity %q is not a whole number", s)
	}
	return n, nil
}

func reportQuantity(w io.Writer, productID string, qty int) error {
	if qty == 0 {
		_, err := fmt.Fprintf(w, "%s is out of stock and not in the basket\n", productID)
		return err
	}
	_, err := fmt.Fprintf(w, "%s x %d\n", productID, qty)
	return err
}

func (s *session) printBasket(out io.Writer) error {
	items := s.front.Basket().Items()
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "basket is empty")
		return err
	}
	catalog := s.front.Catalog()

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tQTY\tPRICE\tSTOCK")
	for _, it := range items {
		p, ok := catalog[it.ProductID]
		if !ok {
			fmt.Fprintf(w, "%s\t(no longer sold)\t%d\t-\t-\n", it.ProductID, it.Quantity)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", p.ID, p.Name, it.Quantity, p.Price.StringFixed(2), p.Stock)
	}
	subtotal, _ := s.front.Subtotal()
	fmt.Fprintf(w, "\t\t\tSUBTOTAL\t%s\n", subtotal.StringFixed(2))
	return w.Flush()
}
