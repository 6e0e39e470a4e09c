package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT creates the TXT records advertised for a server.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyVersion] = strconv.FormatUint(uint64(info.Version), 10)
	txt[TXTKeyServerID] = info.ServerID

	if info.ALPN != "" {
		txt[TXTKeyALPN] = info.ALPN
	}
	if info.Fingerprint != "" {
		txt[TXTKeyFingerprint] = info.Fingerprint
	}

	return txt
}

// DecodeServerTXT parses the TXT records of a server.
func DecodeServerTXT(txt TXTRecordMap) (*ServerInfo, error) {
	info := &ServerInfo{}

	vStr, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	v, err := strconv.ParseUint(vStr, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid version %q", ErrInvalidTXTRecord, vStr)
	}
	info.Version = uint8(v)

	info.ServerID, ok = txt[TXTKeyServerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyServerID)
	}
	if !ValidateID(info.ServerID) {
		return nil, fmt.Errorf("%w: invalid server ID format", ErrInvalidTXTRecord)
	}

	info.ALPN = txt[TXTKeyALPN]
	info.Fingerprint = txt[TXTKeyFingerprint]

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a sorted slice of
// "key=value" strings, the format mDNS libraries use.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		key, value, found := strings.Cut(s, "=")
		if found {
			txt[key] = value
		} else if key != "" {
			// Key without value (boolean flag)
			txt[key] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
