package wireguard

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/yeqown/go-qrcode"
)

// EncodeQR renders content as a PNG QR code, for importing a peer config
// with a phone or a camera on the jump box.
func EncodeQR(content []byte) ([]byte, error) {
	options := []qrcode.ImageOption{
		qrcode.WithQRWidth(7),
		qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT),
	}
	qrc, err := qrcode.New(string(content), options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create qr code")
	}
	buf := bytes.Buffer{}
	if err := qrc.SaveTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to encode qr code")
	}
	return buf.Bytes(), nil
}
