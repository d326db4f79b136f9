package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/fjod/go_cart/storefront/internal/domain"
	storehttp "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const usage = `usage: storefront <command> [args]

commands:
  login <email> <password>   authenticate and keep the credential
  logout                     forget the credential and any pending checkout
  products                   list the catalog
  cart                       show the cart
  add <product_id> [qty]     add qty (default 1) of a product
  set <product_id> <qty>     set a line's quantity, 0 removes it
  remove <product_id>        remove a line
  clear                      empty the cart
  checkout                   start payment for the cart
  finalize                   create the order after payment
  abandon                    discard the pending checkout
  orders                     list past orders
  serve                      run the payment return server
`

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	cfg := loadConfig()
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	err = run(ctx, a, os.Stdout, os.Args[1], os.Args[2:])
	a.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app, out io.Writer, command string, args []string) error {
	switch command {
	case "login":
		if len(args) != 2 {
			return errUsage
		}
		profile, err := a.credentials.Login(ctx, a.client, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "logged in as %s\n", profile.Email)
		return a.cart.Load(ctx)

	case "logout":
		if err := a.credentials.Logout(ctx); err != nil {
			return err
		}
		a.cart.Reset()
		fmt.Fprintln(out, "logged out")
		return nil

	case "products":
		products, err := a.catalog.Products(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSTOCK")
		for _, p := range products {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", p.ID, p.Name, p.Price.StringFixed(2), p.Stock)
		}
		return tw.Flush()

	case "cart":
		if err := a.cart.Load(ctx); err != nil {
			return err
		}
		return printCart(out, a.cart.Get())

	case "add":
		if len(args) < 1 || len(args) > 2 {
			return errUsage
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		qty := 1
		if len(args) == 2 {
			if qty, err = strconv.Atoi(args[1]); err != nil {
				return errUsage
			}
		}
		if err := a.cart.Load(ctx); err != nil {
			return err
		}
		if err := a.engine.AddItem(ctx, id, qty); err != nil {
			return err
		}
		return printCart(out, a.cart.Get())

	case "set":
		if len(args) != 2 {
			return errUsage
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return errUsage
		}
		if err := a.cart.Load(ctx); err != nil {
			return err
		}
		if err := a.engine.SetItemQuantity(ctx, id, qty); err != nil {
			return err
		}
		return printCart(out, a.cart.Get())

	case "remove":
		if len(args) != 1 {
			return errUsage
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.cart.Load(ctx); err != nil {
			return err
		}
		if err := a.engine.RemoveItem(ctx, id); err != nil {
			return err
		}
		return printCart(out, a.cart.Get())

	case "clear":
		if err := a.engine.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "cart cleared")
		return nil

	case "checkout":
		initiation, err := a.initiator.Initiate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "checkout %s started, total %s\n", initiation.Snapshot.ID, initiation.Snapshot.TotalAmount.StringFixed(2))
		return nil

	case "finalize":
		result, err := a.finalizer.Finalize(ctx)
		if err != nil {
			return err
		}
		switch {
		case result.NoOp:
			fmt.Fprintln(out, "nothing to finalize")
		case result.AlreadyCompleted:
			fmt.Fprintf(out, "order for checkout %s already exists\n", result.Snapshot.ID)
		default:
			fmt.Fprintf(out, "order %d created, total %s\n", result.Order.ID, result.Snapshot.TotalAmount.StringFixed(2))
		}
		return nil

	case "abandon":
		if err := a.finalizer.Abandon(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "pending checkout discarded")
		return nil

	case "orders":
		orders, err := a.client.ListOrders(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tITEMS\tTOTAL\tSTATUS")
		for _, o := range orders {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", o.ID, len(o.Items), o.Total.StringFixed(2), o.Status)
		}
		return tw.Flush()

	case "serve":
		// one finalization makes several remote calls
		handler := storehttp.NewRouter(
			storehttp.NewReturnHandler(a.finalizer, a.cart, a.cfg.RequestTimeout*3, log.WithField("app", "storefront")),
			prometheus.DefaultGatherer,
		)
		return storehttp.Serve(ctx, a.cfg.ReturnAddr, handler, a.cfg.ShutdownTimeout)

	default:
		return errUsage
	}
}

var errUsage = errors.New(usage)

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", raw)
	}
	return id, nil
}

func printCart(out io.Writer, c domain.Cart) error {
	if c.IsEmpty() {
		_, err := fmt.Fprintln(out, "cart is empty")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tSUBTOTAL")
	for _, e := range c.Entries() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", e.ProductID, e.Product.Name, e.Quantity, e.Product.Price.StringFixed(2), e.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t\tTOTAL\t%s\n", c.Total().StringFixed(2))
	return tw.Flush()
}

// describe turns an error into what the buyer should read.
func describe(err error) string {
	var stockErr *domain.StockError
	switch {
	case errors.As(err, &stockErr) && stockErr.Available >= 0:
		return fmt.Sprintf("only %d in stock for product %d", stockErr.Available, stockErr.ProductID)
	case errors.Is(err, domain.ErrStockExceeded):
		return "not enough stock for that quantity"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "please log in: storefront login <email> <password>"
	case errors.Is(err, domain.ErrEmptyCart):
		return "your cart is empty"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "quantity must be at least 1"
	case errors.Is(err, domain.ErrFinalizationInProgress):
		return "this checkout is being finalized, try again shortly"
	case errors.Is(err, domain.ErrCheckoutInitiationFailed):
		return "could not start payment, your cart is unchanged; try again"
	case errors.Is(err, domain.ErrOrderSubmissionFailed):
		return "payment received but the order could not be created yet; run storefront finalize to retry"
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return "the store is unavailable right now, try again"
	case errors.Is(err, domain.ErrNotFound):
		return "product not found"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for an earlier change, try again"
	default:
		return err.Error()
	}
}
