package dns

// RRHeader holds the fields common to every resource record except the
// type, which each concrete Record reports via Type().
type RRHeader struct {
	Name  string
	Class uint16
	TTL   uint32
}

// NewRRHeader builds an RRHeader. Name is stored as given; callers that
// need canonical lowercase comparison should normalize separately with
// NormalizeName, since original case must survive for 0x20 mixing.
func NewRRHeader(name string, class RecordClass, ttl uint32) RRHeader {
	return RRHeader{Name: name, Class: uint16(class), TTL: ttl}
}

// Record is the common interface for every resource record variant the
// core models: A, AAAA, NS, CNAME, SOA, MX, TXT, SRV, OPT, DS, DNSKEY,
// RRSIG, NSEC3, and the opaque Unknown fallback.
type Record interface {
	Type() RecordType
	Header() RRHeader
	SetHeader(RRHeader)
	MarshalRData() ([]byte, error)
}
