package services

import (
	"bytes"
	"fmt"
	"image/png"
	"net/url"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

// QRCodeService handles QR code generation
type QRCodeService struct {
	level qrcode.RecoveryLevel
}

// NewQRCodeService creates a new QR code service
func NewQRCodeService() *QRCodeService {
	return &QRCodeService{level: qrcode.Medium}
}

// PaymentURI builds a BIP21-style payment URI. The CashAddr prefix doubles
// as the URI scheme. amountBCH <= 0 omits the amount.
func PaymentURI(address string, amountBCH float64, label string) string {
	uri := address
	if !strings.Contains(uri, ":") {
		uri = "bitcoincash:" + uri
	}
	q := url.Values{}
	if amountBCH > 0 {
		q.Set("amount", strconv.FormatFloat(amountBCH, 'f', -1, 64))
	}
	if label != "" {
		q.Set("label", label)
	}
	if len(q) > 0 {
		uri += "?" + q.Encode()
	}
	return uri
}

// GenerateQRCode renders content as a size x size PNG.
func (s *QRCodeService) GenerateQRCode(content string, size int) ([]byte, error) {
	if size < 64 || size > 1024 {
		return nil, fmt.Errorf("size must be between 64 and 1024")
	}
	qr, err := qrcode.New(content, s.level)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(size)); err != nil {
		return nil, fmt.Errorf("failed to encode QR code to PNG: %w", err)
	}

	return buf.Bytes(), nil
}
