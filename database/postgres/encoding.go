package pg

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// EncodeType names the text encoding of a binary column value. It is stored
// as a short prefix so values remain decodable if the default changes.
type EncodeType string

const (
	Base64            EncodeType = "b64"
	Base58            EncodeType = "b58"
	Hex               EncodeType = "hex"
	DefaultEncodeType            = Base64
)

var (
	ErrInvalidFormat       = errors.New("invalid encoded value format")
	ErrUnsupportedEncoding = errors.New("unsupported encoding type")
)

type codec struct {
	encode func([]byte) string
	decode func(string) ([]byte, error)
}

var codecs = map[EncodeType]codec{
	Base64: {base64.StdEncoding.EncodeToString, base64.StdEncoding.DecodeString},
	Base58: {base58.Encode, base58.Decode},
	Hex:    {hex.EncodeToString, hex.DecodeString},
}

// Encode renders value as "<type>:<encoded>". Unknown types fall back to
// DefaultEncodeType.
func Encode(value []byte, encodeType ...EncodeType) string {
	encType := DefaultEncodeType
	if len(encodeType) > 0 {
		if _, ok := codecs[encodeType[0]]; ok {
			encType = encodeType[0]
		}
	}

	return string(encType) + ":" + codecs[encType].encode(value)
}

// Decode reverses Encode, picking the encoding from the value's prefix.
func Decode(value string) ([]byte, error) {
	prefix, encoded, ok := strings.Cut(value, ":")
	if !ok {
		return nil, ErrInvalidFormat
	}

	c, ok := codecs[EncodeType(prefix)]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedEncoding, "prefix %q", prefix)
	}

	decoded, err := c.decode(encoded)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s value", prefix)
	}
	return decoded, nil
}
