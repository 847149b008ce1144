package dns

import (
	"encoding/binary"
	"fmt"
)

// Packet represents a complete DNS message (RFC 1035 Section 4).
//
// A DNS packet consists of a header and four sections:
//   - Questions: What the client is asking
//   - Answers: Resource records answering the question
//   - Authorities: Nameserver records pointing to authorities
//   - Additionals: Extra records (e.g., glue records, EDNS OPT)
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// maxCompressionPointer is the largest offset a 14-bit compression pointer
// can address (RFC 1035 §4.1.4).
const maxCompressionPointer = 0x3FFF

// nameWriter encodes DNS names with compression, remembering the offset of
// every name suffix it has already written so later names can point back
// to it instead of repeating labels.
type nameWriter struct {
	buf    []byte
	bases  int              // offset of buf[0] within the full message
	offset map[string]int   // normalized dotted suffix -> absolute offset
}

func newNameWriter(base int) *nameWriter {
	return &nameWriter{offset: make(map[string]int), bases: base}
}

// write appends the wire encoding of name to w.buf, using a compression
// pointer for the longest suffix already seen.
func (w *nameWriter) write(name string) error {
	name = trimDot(name)
	if name == "" {
		w.buf = append(w.buf, 0)
		return nil
	}

	labels := splitLabels(name)
	for i := 0; i < len(labels); i++ {
		suffix := joinLabels(labels[i:])
		if ptr, ok := w.offset[suffix]; ok {
			w.buf = append(w.buf, byte(0xC0|(ptr>>8)), byte(ptr&0xFF))
			return nil
		}

		pos := w.bases + len(w.buf)
		if pos <= maxCompressionPointer {
			w.offset[suffix] = pos
		}

		label := labels[i]
		if len(label) > 63 {
			return fmt.Errorf("%w: DNS label too long (%d > 63): %q", ErrDNSError, len(label), label)
		}
		for j := range len(label) {
			if label[j] > 0x7F {
				return fmt.Errorf("%w: domain_name must be ASCII", ErrDNSError)
			}
		}
		w.buf = append(w.buf, byte(len(label)))
		w.buf = append(w.buf, label...)
	}
	w.buf = append(w.buf, 0)
	return nil
}

func splitLabels(name string) []string {
	if name == "" {
		return nil
	}
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	return labels
}

// marshalRR writes the owner name (compressed unless rr is an OPT pseudo
// record, which always uses the root name), type, class, TTL, RDLENGTH,
// and RDATA for one resource record.
func marshalRR(w *nameWriter, rr Record) error {
	h := rr.Header()
	if rr.Type() == TypeOPT {
		w.buf = append(w.buf, 0)
	} else {
		if err := w.write(h.Name); err != nil {
			return err
		}
	}

	rdata, err := rr.MarshalRData()
	if err != nil {
		return err
	}

	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(rr.Type()))
	binary.BigEndian.PutUint16(fixed[2:4], h.Class)
	binary.BigEndian.PutUint32(fixed[4:8], h.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	w.buf = append(w.buf, fixed...)
	w.buf = append(w.buf, rdata...)
	return nil
}

// Marshal serializes the packet to DNS wire format (big-endian), using name
// compression (RFC 1035 §4.1.4) across the whole message.
func (p Packet) Marshal() ([]byte, error) {
	h := Header{
		ID:      p.Header.ID,
		Flags:   p.Header.Flags,
		QDCount: uint16(len(p.Questions)),
		ANCount: uint16(len(p.Answers)),
		NSCount: uint16(len(p.Authorities)),
		ARCount: uint16(len(p.Additionals)),
	}

	hb, err := h.Marshal()
	if err != nil {
		return nil, err
	}

	w := newNameWriter(len(hb))
	w.buf = make([]byte, 0, HeaderSize+len(p.Questions)*32+(len(p.Answers)+len(p.Authorities)+len(p.Additionals))*48)

	for _, q := range p.Questions {
		if err := w.write(q.Name); err != nil {
			return nil, err
		}
		fixed := make([]byte, 4)
		binary.BigEndian.PutUint16(fixed[0:2], q.Type)
		binary.BigEndian.PutUint16(fixed[2:4], q.Class)
		w.buf = append(w.buf, fixed...)
	}
	for _, rr := range p.Answers {
		if err := marshalRR(w, rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range p.Authorities {
		if err := marshalRR(w, rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range p.Additionals {
		if err := marshalRR(w, rr); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, len(hb)+len(w.buf))
	out = append(out, hb...)
	out = append(out, w.buf...)
	return out, nil
}

// ParseRecord parses one resource record, dispatching to the concrete
// Record implementation for its type.
func ParseRecord(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return nil, err
	}
	if *off+10 > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading DNS record", ErrDNSError)
	}
	rrType := binary.BigEndian.Uint16(msg[*off : *off+2])
	rrClass := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8 : *off+10]))
	*off += 10
	start := *off
	if start+rdlen > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading DNS record rdata", ErrDNSError)
	}

	rt := RecordType(rrType)
	var rr Record
	switch rt {
	case TypeA, TypeAAAA:
		rr, err = ParseIPRData(msg, off, rdlen)
	case TypeCNAME, TypeNS, TypePTR:
		rr, err = ParseNameRData(msg, off, start, rdlen, rt)
	case TypeMX:
		rr, err = ParseMXRData(msg, off, start, rdlen)
	case TypeTXT:
		rr, err = ParseTXTRData(msg, off, rdlen)
	case TypeSRV:
		rr, err = ParseSRVRData(msg, off, start, rdlen)
	case TypeSOA:
		rr, err = ParseSOARData(msg, off, start, rdlen)
	case TypeOPT:
		var raw []byte
		raw, err = readRaw(msg, off, rdlen)
		if err == nil {
			opt := &OPTRecord{Options: ParseEDNSOptions(raw)}
			opt.SetHeader(RRHeader{Class: rrClass, TTL: ttl})
			rr = opt
		}
	default:
		rr, err = ParseOpaqueRData(msg, off, rdlen, rt)
	}
	if err != nil {
		return nil, err
	}

	if rt != TypeOPT {
		rr.SetHeader(RRHeader{Name: name, Class: rrClass, TTL: ttl})
	}
	return rr, nil
}

func readRaw(msg []byte, off *int, rdlen int) ([]byte, error) {
	if *off+rdlen > len(msg) {
		return nil, fmt.Errorf("%w: unexpected EOF while reading RDATA", ErrDNSError)
	}
	b := make([]byte, rdlen)
	copy(b, msg[*off:*off+rdlen])
	*off += rdlen
	return b, nil
}

func ParsePacket(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}

	p := Packet{Header: h}

	// Cap initial allocation to avoid DoS with large counts in header
	// but small actual packet size.
	limitCount := func(count uint16, limit int) int {
		if int(count) > limit {
			return limit
		}
		return int(count)
	}

	p.Questions = make([]Question, 0, limitCount(h.QDCount, MaxQuestions))
	for range h.QDCount {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}
	p.Answers = make([]Record, 0, limitCount(h.ANCount, MaxRRPerSection))
	for range h.ANCount {
		rr, err := ParseRecord(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Answers = append(p.Answers, rr)
	}
	p.Authorities = make([]Record, 0, limitCount(h.NSCount, MaxRRPerSection))
	for range h.NSCount {
		rr, err := ParseRecord(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Authorities = append(p.Authorities, rr)
	}
	p.Additionals = make([]Record, 0, limitCount(h.ARCount, MaxRRPerSection))
	for range h.ARCount {
		rr, err := ParseRecord(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Additionals = append(p.Additionals, rr)
	}
	return p, nil
}
