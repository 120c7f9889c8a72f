// Command credtool inspects or builds a §4.7 portable credentials
// string, for debugging a settings store or hand-assembling a test
// fixture.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/barnettlynn/atvpair/credentials"
)

func main() {
	parse := flag.String("parse", "", "a portable credentials string to inspect")
	transient := flag.Bool("transient", false, "print the Transient sentinel string")
	flag.Parse()

	switch {
	case *transient:
		fmt.Println(credentials.NewTransient().String())
	case *parse != "":
		inspect(*parse)
	default:
		fmt.Fprintln(os.Stderr, "usage: credtool -parse <string> | -transient")
		os.Exit(2)
	}
}

func inspect(s string) {
	creds, err := credentials.Parse(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("variant:   %s\n", creds.Variant())
	if len(creds.LTPK) > 0 {
		fmt.Printf("ltpk:      %x\n", creds.LTPK)
	}
	if len(creds.LTSK) > 0 {
		fmt.Printf("ltsk:      %x\n", creds.LTSK)
	}
	if len(creds.AtvId) > 0 {
		fmt.Printf("atv_id:    %x\n", creds.AtvId)
	}
	if len(creds.ClientId) > 0 {
		fmt.Printf("client_id: %x\n", creds.ClientId)
	}
}
