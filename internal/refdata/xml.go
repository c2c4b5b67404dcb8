package refdata

import (
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// NewXMLDecoder returns a decoder that understands any charset declared in
// the XML prolog (ShakeMap products are often ISO-8859-1).
func NewXMLDecoder(r io.Reader) *xml.Decoder {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return decoder
}

// DecodeXML decodes the root element of r into v.
func DecodeXML(r io.Reader, v any) error {
	if err := NewXMLDecoder(r).Decode(v); err != nil {
		return eris.Wrap(err, "xml: decode document")
	}
	return nil
}
