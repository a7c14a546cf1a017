package errhandler

import (
	"encoding/hex"
	"pipewatch/app/internal/models"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint groups records of the same failure. It hashes the component,
// operation, error type and normalized message.
func Fingerprint(rec models.ErrorRecord) string {
	h, _ := blake2b.New(8, nil)
	for _, part := range []string{rec.Component, rec.Operation, rec.ErrorType, normalizeMessage(rec.ErrorMessage)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
