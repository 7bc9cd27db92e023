package iap

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// GetReceiptID derives the identifier of a receipt from its raw bytes.
func GetReceiptID(receipt []byte) []byte {
	hash := sha256.Sum256(receipt)
	return hash[:]
}

func ReceiptIDString(receiptID []byte) string {
	return base58.Encode(receiptID)
}
