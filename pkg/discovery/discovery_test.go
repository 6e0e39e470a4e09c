package discovery

import (
	"context"
	"crypto/x509"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "a1b2c3d4e5f6a7b8"

func TestServerTXTRoundTrip(t *testing.T) {
	info := &ServerInfo{
		Port:        4444,
		Version:     1,
		ServerID:    testID,
		ALPN:        "sslserver/1",
		Fingerprint: "AA:BB",
	}

	strs := TXTRecordsToStrings(EncodeServerTXT(info))
	assert.Equal(t, []string{"alpn=sslserver/1", "fp=AA:BB", "id=" + testID, "v=1"}, strs)

	decoded, err := DecodeServerTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, info.Version, decoded.Version)
	assert.Equal(t, info.ServerID, decoded.ServerID)
	assert.Equal(t, info.ALPN, decoded.ALPN)
	assert.Equal(t, info.Fingerprint, decoded.Fingerprint)
}

func TestServerTXTOptionalFieldsOmitted(t *testing.T) {
	txt := EncodeServerTXT(&ServerInfo{Version: 1, ServerID: testID})
	assert.Len(t, txt, 2)
	assert.NotContains(t, txt, TXTKeyALPN)
	assert.NotContains(t, txt, TXTKeyFingerprint)
}

func TestDecodeServerTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"missing version", TXTRecordMap{TXTKeyServerID: testID}, ErrMissingRequired},
		{"bad version", TXTRecordMap{TXTKeyVersion: "x", TXTKeyServerID: testID}, ErrInvalidTXTRecord},
		{"version overflow", TXTRecordMap{TXTKeyVersion: "300", TXTKeyServerID: testID}, ErrInvalidTXTRecord},
		{"missing id", TXTRecordMap{TXTKeyVersion: "1"}, ErrMissingRequired},
		{"short id", TXTRecordMap{TXTKeyVersion: "1", TXTKeyServerID: "abc"}, ErrInvalidTXTRecord},
		{"non-hex id", TXTRecordMap{TXTKeyVersion: "1", TXTKeyServerID: "zzzzzzzzzzzzzzzz"}, ErrInvalidTXTRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServerTXT(tt.txt)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"a=1", "flag", "b=x=y", ""})
	assert.Equal(t, TXTRecordMap{"a": "1", "flag": "", "b": "x=y"}, txt)
}

func TestServerInfoInstanceAndValidate(t *testing.T) {
	info := &ServerInfo{Port: 4444, ServerID: testID}
	assert.Equal(t, "sslserver-"+testID, info.Instance())
	assert.NoError(t, info.Validate())

	info.InstanceName = "lab"
	assert.Equal(t, "lab", info.Instance())

	long := &ServerInfo{Port: 1, ServerID: testID, InstanceName: string(make([]byte, 70))}
	assert.Len(t, long.Instance(), MaxInstanceNameLen)
	assert.ErrorIs(t, long.Validate(), ErrInstanceNameTooLong)

	assert.ErrorIs(t, (&ServerInfo{ServerID: testID}).Validate(), ErrInvalidPort)
	assert.ErrorIs(t, (&ServerInfo{Port: 1, ServerID: "nope"}).Validate(), ErrInvalidTXTRecord)
}

func TestServiceAddress(t *testing.T) {
	svc := &Service{Host: "box.local.", Port: 4444}
	assert.Equal(t, "box.local.:4444", svc.Address())

	svc.Addresses = []string{"fe80::1", "192.168.1.5"}
	assert.Equal(t, "[fe80::1]:4444", svc.Address())
}

func TestServerIDFromCertificate(t *testing.T) {
	cert := &x509.Certificate{Raw: []byte("certificate")}
	id := ServerIDFromCertificate(cert)
	assert.Len(t, id, IDLength)
	assert.True(t, ValidateID(id))
	assert.Equal(t, id, ServerIDFromDER([]byte("certificate")))
	assert.NotEqual(t, id, ServerIDFromDER([]byte("other")))
}

func TestServiceEntryToService(t *testing.T) {
	entry := ServiceEntry{
		Instance: "sslserver-" + testID,
		Host:     "box.local.",
		Port:     4444,
		Text:     []string{"v=1", "id=" + testID, "alpn=sslserver/1"},
		Addrs:    []string{"192.168.1.5"},
	}
	svc, err := entry.ToService()
	require.NoError(t, err)
	assert.Equal(t, entry.Instance, svc.InstanceName)
	assert.Equal(t, uint16(4444), svc.Port)
	assert.Equal(t, uint8(1), svc.Version)
	assert.Equal(t, "sslserver/1", svc.ALPN)
	assert.Equal(t, []string{"192.168.1.5"}, svc.Addresses)

	entry.Text = []string{"v=1"}
	_, err = entry.ToService()
	assert.ErrorIs(t, err, ErrMissingRequired)
}

func TestAddressHelpers(t *testing.T) {
	merged := mergeAddresses([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, merged)
	assert.Equal(t, []string{"a", "c"}, removeAddresses(merged, []string{"b", "x"}))
	assert.Empty(t, removeAddresses([]string{"a"}, []string{"a"}))
}

func entryFor(instance string, addrs ...string) ServiceEntry {
	return ServiceEntry{
		Instance: instance,
		Port:     4444,
		Text:     []string{"v=1", "id=" + testID},
		Addrs:    addrs,
	}
}

func receive(t *testing.T, out <-chan *Service) *Service {
	t.Helper()
	select {
	case svc := <-out:
		return svc
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for service")
		return nil
	}
}

func TestAggregateMergesByInstance(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan ServiceEntry)
	removed := make(chan ServiceEntry)
	out := make(chan *Service)
	go aggregate(ctx, entries, removed, out, slog.New(slog.DiscardHandler))

	entries <- entryFor("one", "10.0.0.1")
	first := receive(t, out)
	assert.Equal(t, "one", first.InstanceName)

	// Same instance on another interface: merged, not re-emitted.
	entries <- entryFor("one", "fe80::1")
	// Invalid TXT: ignored.
	entries <- ServiceEntry{Instance: "broken", Text: []string{"v=1"}}

	entries <- entryFor("two", "10.0.0.2")
	second := receive(t, out)
	assert.Equal(t, "two", second.InstanceName)
	assert.Equal(t, []string{"10.0.0.1"}, first.Addresses, "emitted copies are not mutated")

	// Removing every address forgets the instance so it is emitted again.
	removed <- entryFor("one", "10.0.0.1", "fe80::1")
	entries <- entryFor("one", "10.0.0.3")
	again := receive(t, out)
	assert.Equal(t, "one", again.InstanceName)
	assert.Equal(t, []string{"10.0.0.3"}, again.Addresses)

	close(entries)
	_, ok := <-out
	assert.False(t, ok, "out closes when entries close")
}

func TestAggregateStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *Service)
	go aggregate(ctx, make(chan ServiceEntry), make(chan ServiceEntry), out, slog.New(slog.DiscardHandler))

	cancel()
	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("aggregate did not stop")
	}
}

func TestFirstMatch(t *testing.T) {
	results := make(chan *Service, 3)
	results <- &Service{InstanceName: "a"}
	results <- &Service{InstanceName: "b"}
	close(results)

	svc, err := firstMatch(context.Background(), results, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", svc.InstanceName)

	empty := make(chan *Service)
	close(empty)
	_, err = firstMatch(context.Background(), empty, "")
	assert.ErrorIs(t, err, ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = firstMatch(ctx, make(chan *Service), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMDNSAdvertiserWithoutRegistration(t *testing.T) {
	a := NewMDNSAdvertiser(AdvertiserConfig{})
	assert.Empty(t, a.Instance())
	assert.ErrorIs(t, a.Update(&ServerInfo{}), ErrNotFound)
	a.Stop()

	err := a.Advertise(context.Background(), &ServerInfo{ServerID: testID})
	assert.ErrorIs(t, err, ErrInvalidPort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Advertise(ctx, &ServerInfo{Port: 4444, ServerID: testID})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, a.Instance())
}

func TestMDNSBrowserDefaults(t *testing.T) {
	b := NewMDNSBrowser(BrowserConfig{})
	assert.Equal(t, BrowseTimeout, b.config.BrowseTimeout)
	b.Stop()
}
