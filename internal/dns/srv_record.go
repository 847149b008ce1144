package dns

import (
	"encoding/binary"
	"fmt"
)

// SRVRecord represents a DNS SRV (service locator) record (RFC 2782).
type SRVRecord struct {
	H        RRHeader
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// NewSRVRecord creates a new SRV record.
func NewSRVRecord(h RRHeader, priority, weight, port uint16, target string) *SRVRecord {
	return &SRVRecord{H: h, Priority: priority, Weight: weight, Port: port, Target: target}
}

// Type returns TypeSRV.
func (r *SRVRecord) Type() RecordType { return TypeSRV }

// Header returns the record header.
func (r *SRVRecord) Header() RRHeader { return r.H }

// SetHeader sets the record header.
func (r *SRVRecord) SetHeader(h RRHeader) { r.H = h }

// MarshalRData marshals priority, weight, port, and target to wire format.
// The target name is not compressed (RFC 2782 recommends uncompressed names).
func (r *SRVRecord) MarshalRData() ([]byte, error) {
	target, err := EncodeName(r.Target)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 6+len(target))
	binary.BigEndian.PutUint16(out[0:2], r.Priority)
	binary.BigEndian.PutUint16(out[2:4], r.Weight)
	binary.BigEndian.PutUint16(out[4:6], r.Port)
	copy(out[6:], target)
	return out, nil
}

// ParseSRVRData parses SRV record RDATA from wire format.
func ParseSRVRData(msg []byte, off *int, start, rdlen int) (*SRVRecord, error) {
	if *off+6 > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading SRV fields", ErrDNSError)
	}
	priority := binary.BigEndian.Uint16(msg[*off : *off+2])
	weight := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	port := binary.BigEndian.Uint16(msg[*off+4 : *off+6])
	*off += 6
	target, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	if *off-start != rdlen {
		return nil, fmt.Errorf("%w: invalid DNS record rdata length for SRV", ErrDNSError)
	}
	return &SRVRecord{Priority: priority, Weight: weight, Port: port, Target: target}, nil
}
