package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xenking/planthub/internal/domain/product"
)

func newProductsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "products [id]",
		Short: "List the catalog, or show one product",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			var products []product.Product
			if len(args) == 1 {
				p, err := s.client.Product(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				products = []product.Product{*p}
			} else {
				products, err = s.client.Products(cmd.Context())
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRICE\tSTOCK")
			for _, p := range products {
				stock := fmt.Sprint(p.Stock)
				if !p.Available() {
					stock = "sold out"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Price.StringFixed(2), stock)
			}
			return w.Flush()
		},
	}
}
