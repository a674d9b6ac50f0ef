package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/cavistelabs/sommelier/pkg/outbound"
)

func runDeliveryCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("delivery", flag.ContinueOnError)
	fs.SetOutput(stderr)
	customer := fs.String("customer", "", "customer code the event is about")
	event := fs.String("event", "", "delivered, bounce, unsubscribe or spam")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *customer == "" || *event == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: sommelier delivery -customer <code> -event <delivered|bounce|unsubscribe|spam>")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	handler := outbound.NewDeliveryHandler(a.customers)
	if err := handler.Apply(ctx, *customer, outbound.DeliveryEventType(*event)); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "applied %s for %s\n", *event, *customer)
	return 0
}
