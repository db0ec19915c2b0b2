package usecase

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
)

// DefaultMaxDocumentBytes matches the inline request limit of the Gemini API.
const DefaultMaxDocumentBytes int64 = 20 << 20

var pdfMagic = []byte("%PDF-")

var documentEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeDocument turns the transported base64 text into PDF bytes. A data URL
// prefix such as "data:application/pdf;base64," is accepted.
func decodeDocument(encoded string, maxBytes int64) ([]byte, *Error) {
	s := strings.TrimSpace(encoded)
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, newError(ErrorInvalidRequest, reasonInvalidEncoding, errors.New("data url without payload"))
		}
		s = s[i+1:]
	}

	// Reject obviously oversized input before allocating for it.
	if int64(len(s))/4*3 > maxBytes+2 {
		return nil, newError(ErrorPayloadTooLarge, reasonDocumentTooLarge, nil)
	}

	var (
		doc []byte
		err error
	)
	for _, enc := range documentEncodings {
		if doc, err = enc.DecodeString(s); err == nil {
			break
		}
	}
	if err != nil {
		return nil, newError(ErrorInvalidRequest, reasonInvalidEncoding, err)
	}
	if int64(len(doc)) > maxBytes {
		return nil, newError(ErrorPayloadTooLarge, reasonDocumentTooLarge, nil)
	}
	if !bytes.HasPrefix(doc, pdfMagic) {
		return nil, newError(ErrorInvalidRequest, reasonNotPDF, nil)
	}
	return doc, nil
}
