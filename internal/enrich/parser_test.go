package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/net/dns/dnsmessage"
)

func mustName(t *testing.T, s string) dnsmessage.Name {
	t.Helper()
	n, err := dnsmessage.NewName(s)
	require.NoError(t, err)
	return n
}

func TestParseMDNSPacket_ServiceAnnouncement(t *testing.T) {
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{Response: true, Authoritative: true},
		Answers: []dnsmessage.Resource{
			{
				Header: dnsmessage.ResourceHeader{
					Name:  mustName(t, "Office Printer._ipp._tcp.local."),
					Type:  dnsmessage.TypeSRV,
					Class: dnsmessage.ClassINET,
				},
				Body: &dnsmessage.SRVResource{
					Target: mustName(t, "office-printer.local."),
					Port:   631,
				},
			},
			{
				Header: dnsmessage.ResourceHeader{
					Name:  mustName(t, "office-printer.local."),
					Type:  dnsmessage.TypeA,
					Class: dnsmessage.ClassINET,
				},
				Body: &dnsmessage.AResource{A: [4]byte{192, 168, 1, 42}},
			},
		},
	}
	data, err := msg.Pack()
	require.NoError(t, err)

	parsed, err := parseMDNSPacket(data)
	require.NoError(t, err)
	assert.Equal(t, "office-printer", parsed.Hostname)
	assert.Contains(t, parsed.Services, "_ipp._tcp")
	assert.Contains(t, parsed.Addresses, "192.168.1.42")
}

func TestParseMDNSPacket_PTRServiceType(t *testing.T) {
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{Response: true},
		Answers: []dnsmessage.Resource{
			{
				Header: dnsmessage.ResourceHeader{
					Name:  mustName(t, "_googlecast._tcp.local."),
					Type:  dnsmessage.TypePTR,
					Class: dnsmessage.ClassINET,
				},
				Body: &dnsmessage.PTRResource{PTR: mustName(t, "Living Room TV._googlecast._tcp.local.")},
			},
		},
	}
	data, err := msg.Pack()
	require.NoError(t, err)

	parsed, err := parseMDNSPacket(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"_googlecast._tcp"}, parsed.Services)
}

func TestParseMDNSPacket_TXTRecords(t *testing.T) {
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{Response: true},
		Answers: []dnsmessage.Resource{
			{
				Header: dnsmessage.ResourceHeader{
					Name:  mustName(t, "Frame._airplay._tcp.local."),
					Type:  dnsmessage.TypeTXT,
					Class: dnsmessage.ClassINET,
				},
				Body: &dnsmessage.TXTResource{TXT: []string{"model=QN43LS03", "srcvers=366"}},
			},
		},
	}
	data, err := msg.Pack()
	require.NoError(t, err)

	parsed, err := parseMDNSPacket(data)
	require.NoError(t, err)
	assert.Equal(t, "QN43LS03", parsed.TXT["model"])
	assert.Contains(t, parsed.Services, "_airplay._tcp")
}

func TestParseMDNSPacket_Garbage(t *testing.T) {
	_, err := parseMDNSPacket([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestExtractServiceType(t *testing.T) {
	assert.Equal(t, "_googlecast._tcp", extractServiceType("My Chromecast._googlecast._tcp.local."))
	assert.Equal(t, "_ssh._tcp", extractServiceType("_ssh._tcp.local."))
	assert.Equal(t, "", extractServiceType("plainhost.local."))
}
