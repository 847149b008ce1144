package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPRecordMarshalA(t *testing.T) {
	rr := NewIPRecord(NewRRHeader("example.com", ClassIN, 300), []byte{192, 0, 2, 1})
	rdata, err := rr.MarshalRData()
	require.NoError(t, err)
	assert.Equal(t, []byte{192, 0, 2, 1}, rdata)
	assert.Equal(t, TypeA, rr.Type())
}

func TestIPRecordMarshalAAAA(t *testing.T) {
	addr := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	rr := NewIPRecord(NewRRHeader("example.com", ClassIN, 300), addr)
	rdata, err := rr.MarshalRData()
	require.NoError(t, err)
	assert.Equal(t, addr, rdata)
	assert.Equal(t, TypeAAAA, rr.Type())
}

func TestNameRecordMarshalCNAME(t *testing.T) {
	rr := NewCNAMERecord(NewRRHeader("www.example.com", ClassIN, 3600), "example.com")
	rdata, err := rr.MarshalRData()
	require.NoError(t, err)
	assert.NotEmpty(t, rdata)
	assert.Equal(t, TypeCNAME, rr.Type())
}

func TestMXRecordMarshal(t *testing.T) {
	rr := NewMXRecord(NewRRHeader("example.com", ClassIN, 3600), 10, "mail.example.com")
	rdata, err := rr.MarshalRData()
	require.NoError(t, err)
	assert.NotEmpty(t, rdata)
}

func TestTXTRecordMarshal(t *testing.T) {
	tests := []struct {
		name    string
		strings []string
	}{
		{"single string", []string{"hello world"}},
		{"multiple strings", []string{"hello", "world"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := NewTXTRecord(NewRRHeader("example.com", ClassIN, 300), tt.strings...)
			rdata, err := rr.MarshalRData()
			require.NoError(t, err)
			assert.NotEmpty(t, rdata)

			off := 0
			parsed, err := ParseTXTRData(rdata, &off, len(rdata))
			require.NoError(t, err)
			assert.Equal(t, tt.strings, parsed.Strings)
		})
	}
}

func TestSOARecordMarshal(t *testing.T) {
	rr := NewSOARecord(NewRRHeader("example.com", ClassIN, 86400),
		"ns1.example.com", "hostmaster.example.com", 2024010100, 3600, 600, 604800, 300)
	rdata, err := rr.MarshalRData()
	require.NoError(t, err)
	assert.NotEmpty(t, rdata)

	off, start := 0, 0
	parsed, err := ParseSOARData(rdata, &off, start, len(rdata))
	require.NoError(t, err)
	assert.Equal(t, "ns1.example.com", parsed.MName)
	assert.Equal(t, uint32(2024010100), parsed.Serial)
	assert.Equal(t, uint32(300), parsed.Minimum)
}

func TestSRVRecordMarshal(t *testing.T) {
	rr := NewSRVRecord(NewRRHeader("_http._tcp.example.com", ClassIN, 3600), 10, 20, 8080, "host.example.com")
	rdata, err := rr.MarshalRData()
	require.NoError(t, err)

	off, start := 0, 0
	parsed, err := ParseSRVRData(rdata, &off, start, len(rdata))
	require.NoError(t, err)
	assert.Equal(t, uint16(10), parsed.Priority)
	assert.Equal(t, uint16(20), parsed.Weight)
	assert.Equal(t, uint16(8080), parsed.Port)
	assert.Equal(t, "host.example.com", parsed.Target)
}

func TestIPRecordInvalidAAAAData(t *testing.T) {
	off := 0
	_, err := ParseIPRData([]byte{1, 2, 3, 4}, &off, 5)
	assert.Error(t, err, "expected error for invalid RDLEN")
}

func TestParseRecordDispatchesA(t *testing.T) {
	// Build a simple A record
	msg := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0,    // End of name
		0, 1, // Type A
		0, 1, // Class IN
		0, 0, 1, 44, // TTL 300
		0, 4, // RDLEN
		192, 0, 2, 1, // RDATA
	}

	off := 0
	rr, err := ParseRecord(msg, &off)
	require.NoError(t, err)

	assert.Equal(t, TypeA, rr.Type())
	assert.Equal(t, "example.com", rr.Header().Name)
	assert.Equal(t, uint32(300), rr.Header().TTL)

	ipRec, ok := rr.(*IPRecord)
	require.True(t, ok, "expected *IPRecord, got %T", rr)
	assert.Equal(t, []byte{192, 0, 2, 1}, []byte(ipRec.Addr.To4()))
}

func TestParseRecordCNAMERoundTrip(t *testing.T) {
	rr := NewCNAMERecord(NewRRHeader("www.example.com", ClassIN, 3600), "target.example.com")
	pkt := Packet{Header: Header{ID: 1, Flags: QRFlag}, Answers: []Record{rr}}
	b, err := pkt.Marshal()
	require.NoError(t, err)

	parsed, err := ParsePacket(b)
	require.NoError(t, err)
	require.Len(t, parsed.Answers, 1)

	nameRec, ok := parsed.Answers[0].(*NameRecord)
	require.True(t, ok, "expected *NameRecord, got %T", parsed.Answers[0])
	assert.Equal(t, "target.example.com", nameRec.Target)
}

func TestParseRecordMX(t *testing.T) {
	// MX record with preference 10, exchange mail.example.com
	msg := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0,     // End of name
		0, 15, // Type MX
		0, 1, // Class IN
		0, 0, 14, 16, // TTL 3600
		0, 20, // RDLEN
		0, 10, // Preference
		4, 'm', 'a', 'i', 'l',
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0, // End of exchange name
	}

	off := 0
	rr, err := ParseRecord(msg, &off)
	require.NoError(t, err)
	assert.Equal(t, TypeMX, rr.Type())

	mx, ok := rr.(*MXRecord)
	require.True(t, ok, "expected *MXRecord, got %T", rr)
	assert.Equal(t, uint16(10), mx.Preference)
	assert.Equal(t, "mail.example.com", mx.Exchange)
}

func TestParseRecordTruncated(t *testing.T) {
	// Truncated record (missing RDATA)
	msg := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		3, 'c', 'o', 'm',
		0,    // End of name
		0, 1, // Type A
		0, 1, // Class IN
		0, 0, 1, 44, // TTL 300
		0, 4, // RDLEN says 4 bytes
		// But no RDATA follows
	}

	off := 0
	_, err := ParseRecord(msg, &off)
	assert.Error(t, err, "expected error for truncated record")
}
