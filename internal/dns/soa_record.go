package dns

import (
	"encoding/binary"
	"fmt"
)

// SOARecord represents a DNS SOA (Start of Authority) record (RFC 1035 §3.3.13).
type SOARecord struct {
	H       RRHeader
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// NewSOARecord creates a new SOA record.
func NewSOARecord(h RRHeader, mname, rname string, serial, refresh, retry, expire, minimum uint32) *SOARecord {
	return &SOARecord{
		H: h, MName: mname, RName: rname,
		Serial: serial, Refresh: refresh, Retry: retry, Expire: expire, Minimum: minimum,
	}
}

// Type returns TypeSOA.
func (r *SOARecord) Type() RecordType { return TypeSOA }

// Header returns the record header.
func (r *SOARecord) Header() RRHeader { return r.H }

// SetHeader sets the record header.
func (r *SOARecord) SetHeader(h RRHeader) { r.H = h }

// MarshalRData marshals the SOA fields to wire format.
func (r *SOARecord) MarshalRData() ([]byte, error) {
	mname, err := EncodeName(r.MName)
	if err != nil {
		return nil, err
	}
	rname, err := EncodeName(r.RName)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(mname)+len(rname)+20)
	out = append(out, mname...)
	out = append(out, rname...)
	tail := make([]byte, 20)
	binary.BigEndian.PutUint32(tail[0:4], r.Serial)
	binary.BigEndian.PutUint32(tail[4:8], r.Refresh)
	binary.BigEndian.PutUint32(tail[8:12], r.Retry)
	binary.BigEndian.PutUint32(tail[12:16], r.Expire)
	binary.BigEndian.PutUint32(tail[16:20], r.Minimum)
	out = append(out, tail...)
	return out, nil
}

// ParseSOARData parses SOA record RDATA from wire format.
func ParseSOARData(msg []byte, off *int, start, rdlen int) (*SOARecord, error) {
	mname, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	rname, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	if *off+20 > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading SOA fixed fields", ErrDNSError)
	}
	serial := binary.BigEndian.Uint32(msg[*off : *off+4])
	refresh := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	retry := binary.BigEndian.Uint32(msg[*off+8 : *off+12])
	expire := binary.BigEndian.Uint32(msg[*off+12 : *off+16])
	minimum := binary.BigEndian.Uint32(msg[*off+16 : *off+20])
	*off += 20
	if *off-start != rdlen {
		return nil, fmt.Errorf("%w: invalid DNS record rdata length for SOA", ErrDNSError)
	}
	return &SOARecord{
		MName: mname, RName: rname,
		Serial: serial, Refresh: refresh, Retry: retry, Expire: expire, Minimum: minimum,
	}, nil
}
