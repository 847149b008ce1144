// Command atlas-dig is a minimal query/debug client exercising the wire
// codec directly, useful for manual testing against a running atlasd (or
// any DNS server).
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/atlasdns/atlas/internal/dns"
)

func main() {
	var (
		server   = flag.String("server", "8.8.8.8:53", "DNS server HOST:PORT")
		name     = flag.String("name", "example.com", "Query name")
		qtype    = flag.Int("qtype", int(dns.TypeA), "Query type (numeric, A=1)")
		timeout  = flag.Duration("timeout", 2*time.Second, "Timeout")
		recvSize = flag.Int("recv-size", 4096, "UDP receive buffer size")
		tcp      = flag.Bool("tcp", false, "Query over TCP instead of UDP")
		quiet    = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	var resp []byte
	var err error
	if *tcp {
		resp, err = queryTCP(*server, *name, uint16(*qtype), *timeout)
	} else {
		resp, err = queryUDP(*server, *name, uint16(*qtype), *timeout, *recvSize)
	}
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "atlas-dig error: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		return
	}

	p, err := dns.ParsePacket(resp)
	if err != nil {
		fmt.Printf("received %d bytes (unparseable)\n", len(resp))
		return
	}

	fmt.Printf("id=%d rcode=%d answers=%d authorities=%d additionals=%d\n",
		p.Header.ID,
		dns.RCodeFromFlags(p.Header.Flags),
		len(p.Answers),
		len(p.Authorities),
		len(p.Additionals),
	)

	rows := make([]string, 0, len(p.Answers))
	for _, rr := range p.Answers {
		rows = append(rows, formatRR(rr))
	}
	sort.Strings(rows)
	for _, s := range rows {
		fmt.Println(s)
	}
}

func queryUDP(server, name string, qtype uint16, timeout time.Duration, recvSize int) ([]byte, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	reqBytes, err := buildQuery(name, qtype)
	if err != nil {
		return nil, err
	}
	_ = c.SetDeadline(time.Now().Add(timeout))
	if _, err := c.Write(reqBytes); err != nil {
		return nil, err
	}
	buf := make([]byte, recvSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func queryTCP(server, name string, qtype uint16, timeout time.Duration) ([]byte, error) {
	reqBytes, err := buildQuery(name, qtype)
	if err != nil {
		return nil, err
	}
	c, err := net.DialTimeout("tcp", server, timeout)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(timeout))

	lenPrefix := []byte{byte(len(reqBytes) >> 8), byte(len(reqBytes))}
	if _, err := c.Write(append(lenPrefix, reqBytes...)); err != nil {
		return nil, err
	}
	var lb [2]byte
	if _, err := readFull(c, lb[:]); err != nil {
		return nil, err
	}
	respLen := int(lb[0])<<8 | int(lb[1])
	resp := make([]byte, respLen)
	if _, err := readFull(c, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func buildQuery(name string, qtype uint16) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name required")
	}
	p := dns.Packet{
		Header:    dns.Header{ID: uint16(time.Now().UnixNano()), Flags: dns.RDFlag, QDCount: 1},
		Questions: []dns.Question{{Name: strings.TrimSuffix(name, "."), Type: qtype, Class: uint16(dns.ClassIN)}},
	}
	return p.Marshal()
}

func formatRR(rr dns.Record) string {
	h := rr.Header()
	name := h.Name
	if name == "" {
		name = "."
	}
	switch v := rr.(type) {
	case *dns.IPRecord:
		return fmt.Sprintf("%s %d IN %s %s", name, h.TTL, v.Type(), v.Addr.String())
	case *dns.NameRecord:
		return fmt.Sprintf("%s %d IN %s %s", name, h.TTL, v.Type(), v.Target)
	case *dns.MXRecord:
		return fmt.Sprintf("%s %d IN MX %d %s", name, h.TTL, v.Preference, v.Exchange)
	case *dns.TXTRecord:
		return fmt.Sprintf("%s %d IN TXT %q", name, h.TTL, strings.Join(v.Strings, ""))
	case *dns.SRVRecord:
		return fmt.Sprintf("%s %d IN SRV %d %d %d %s", name, h.TTL, v.Priority, v.Weight, v.Port, v.Target)
	case *dns.SOARecord:
		return fmt.Sprintf("%s %d IN SOA %s %s %d", name, h.TTL, v.MName, v.RName, v.Serial)
	default:
		return fmt.Sprintf("%s %d IN TYPE%d (unparsed)", name, h.TTL, rr.Type())
	}
}
