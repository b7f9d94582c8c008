package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record field numbers. The checksum is always the final field so it can be
// verified before parsing.
const (
	fieldMagic    protowire.Number = 1
	fieldVersion  protowire.Number = 2
	fieldKey      protowire.Number = 3
	fieldStoredAt protowire.Number = 4
	fieldRuntime  protowire.Number = 5
	fieldValue    protowire.Number = 6
	fieldChecksum protowire.Number = 15

	fieldValueName protowire.Number = 1
	fieldValueData protowire.Number = 2
)

const recordMagic = "MREC"

// checksumLen is the tag byte plus the fixed64 xxhash.
const checksumLen = 1 + 8

var (
	errChecksum     = errors.New("checksum mismatch")
	errMalformed    = errors.New("malformed record")
	errStaleVersion = errors.New("stale format version")
	errKeyMismatch  = errors.New("record key does not match its name")
)

// encodeRecord serializes an entry into the persistent record layout.
func encodeRecord(e *Entry) []byte {
	names := make([]string, 0, len(e.Values))
	for name := range e.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	b := make([]byte, 0, 96+int(e.Size())+len(names)*8)
	b = protowire.AppendTag(b, fieldMagic, protowire.BytesType)
	b = protowire.AppendString(b, recordMagic)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.FormatVersion))
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Key[:])
	b = protowire.AppendTag(b, fieldStoredAt, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.StoredAt.UnixNano()))
	b = protowire.AppendTag(b, fieldRuntime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Runtime))

	for _, name := range names {
		var v []byte
		v = protowire.AppendTag(v, fieldValueName, protowire.BytesType)
		v = protowire.AppendString(v, name)
		v = protowire.AppendTag(v, fieldValueData, protowire.BytesType)
		v = protowire.AppendBytes(v, e.Values[name])

		b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}

	sum := xxhash.Sum64(b)
	b = protowire.AppendTag(b, fieldChecksum, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, sum)
}

// verifyRecord checks the trailing checksum and returns the covered body.
func verifyRecord(data []byte) ([]byte, error) {
	if len(data) < checksumLen {
		return nil, errMalformed
	}
	body, trailer := data[:len(data)-checksumLen], data[len(data)-checksumLen:]
	num, typ, n := protowire.ConsumeTag(trailer)
	if n != 1 || num != fieldChecksum || typ != protowire.Fixed64Type {
		return nil, errMalformed
	}
	if binary.LittleEndian.Uint64(trailer[1:]) != xxhash.Sum64(body) {
		return nil, errChecksum
	}
	return body, nil
}

// decodeRecord verifies and parses a record. A record written under another
// FormatVersion fails with errStaleVersion.
func decodeRecord(data []byte) (*Entry, error) {
	body, err := verifyRecord(data)
	if err != nil {
		return nil, err
	}

	e := &Entry{Values: make(map[string][]byte)}
	var sawMagic, sawKey bool
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		body = body[n:]

		switch {
		case num == fieldMagic && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			if n < 0 || v != recordMagic {
				return nil, fmt.Errorf("%w: bad magic", errMalformed)
			}
			sawMagic = true
			body = body[n:]
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, errMalformed
			}
			e.FormatVersion = int(v)
			body = body[n:]
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 || len(v) != len(e.Key) {
				return nil, fmt.Errorf("%w: bad key", errMalformed)
			}
			copy(e.Key[:], v)
			sawKey = true
			body = body[n:]
		case num == fieldStoredAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, errMalformed
			}
			e.StoredAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			body = body[n:]
		case num == fieldRuntime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, errMalformed
			}
			e.Runtime = time.Duration(v)
			body = body[n:]
		case num == fieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, errMalformed
			}
			name, data, err := decodeValue(v)
			if err != nil {
				return nil, err
			}
			e.Values[name] = data
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}

	if !sawMagic || !sawKey {
		return nil, fmt.Errorf("%w: missing header", errMalformed)
	}
	if e.FormatVersion != FormatVersion {
		return e, fmt.Errorf("%w: %d", errStaleVersion, e.FormatVersion)
	}
	return e, nil
}

func decodeValue(b []byte) (string, []byte, error) {
	var name string
	var data []byte
	var sawName bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, errMalformed
		}
		b = b[n:]
		switch {
		case num == fieldValueName && typ == protowire.BytesType:
			name, n = protowire.ConsumeString(b)
			sawName = true
		case num == fieldValueData && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			data = append([]byte{}, v...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", nil, errMalformed
		}
		b = b[n:]
	}
	if !sawName {
		return "", nil, fmt.Errorf("%w: unnamed value", errMalformed)
	}
	if data == nil {
		data = []byte{}
	}
	return name, data, nil
}
