package checkout

import (
	"context"
	"fmt"
	"io"
)

// Redirector hands control to the payment provider's page.
type Redirector interface {
	Redirect(ctx context.Context, url string) error
}

// WriterRedirector prints the payment URL for the buyer to open.
type WriterRedirector struct {
	W io.Writer
}

func (r WriterRedirector) Redirect(_ context.Context, url string) error {
	_, err := fmt.Fprintf(r.W, "Continue to payment: %s\n", url)
	return err
}
