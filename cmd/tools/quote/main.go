package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/noah-isme/agrimarket-storefront/internal/checkout"
)

// quote reads a checkout input document (items, owned allocations, shipping
// fee, overrides) and prints the computed summary as JSON.
// Exit code 0 = ok, 1 = bad input, 2 = other error.
func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "-", "input JSON file, - for stdin")
	at := fs.String("at", "", "evaluation time (RFC3339), defaults to now")
	currency := fs.String("currency", "VND", "currency code echoed in the result")
	summaryOnly := fs.Bool("summary", false, "print only the totals")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	calc := checkout.Calculator{Currency: *currency}
	if *at != "" {
		ts, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintf(stderr, "quote: invalid -at: %v\n", err)
			return 1
		}
		calc.Now = func() time.Time { return ts }
	}

	src := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintf(stderr, "quote error: %v\n", err)
			return 2
		}
		defer func() {
			_ = f.Close()
		}()
		src = f
	}

	var in checkout.Input
	if err := json.NewDecoder(src).Decode(&in); err != nil {
		fmt.Fprintf(stderr, "quote: decode input: %v\n", err)
		return 1
	}

	res := calc.Compute(in)
	var out any = res
	if *summaryOnly {
		out = res.Summary
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "quote error: %v\n", err)
		return 2
	}
	return 0
}
