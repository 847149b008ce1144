// Command atlas-zonecheck loads a zone file and prints its records, serving
// as a quick sanity check of a zone before it is handed to atlasd.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/atlasdns/atlas/internal/dns"
	"github.com/atlasdns/atlas/internal/zone"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: atlas-zonecheck path/to/zonefile\n")
		os.Exit(2)
	}
	path := flag.Arg(0)
	z, err := zone.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load zone: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ORIGIN: %s\n", z.Origin)
	fmt.Printf("DEFAULT_TTL: %d\n", z.DefaultTTL)
	fmt.Printf("RECORDS: %d\n", len(z.Records))

	recs := append([]zone.Record(nil), z.Records...)
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		if a.TTL != b.TTL {
			return a.TTL < b.TTL
		}
		return fmt.Sprintf("%v", a.RData) < fmt.Sprintf("%v", b.RData)
	})

	for _, rr := range recs {
		rdata := rr.RData
		if b, ok := rdata.([]byte); ok {
			rdata = string(b)
		}
		fmt.Printf("  %s %d IN %s %v\n", rr.Name, rr.TTL, dns.RecordType(rr.Type), rdata)
	}
}
