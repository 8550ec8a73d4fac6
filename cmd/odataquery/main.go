// Command odataquery runs a single OData request against a database holding
// the demo model and prints the projected result as JSON.
//
//	odataquery --demo "Employees?\$filter=Age gt 40&\$orderby=Age desc"
//	odataquery --dialect postgres --dsn "postgres://localhost/demo" "Rooms('R1')/Employees/\$count"
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
