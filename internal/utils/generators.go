package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateConfirmationID issues the opaque token a checkout session is keyed
// by. Prefixed so it is recognizable in provider metadata and logs.
func GenerateConfirmationID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999999))
	return fmt.Sprintf("conf_%d_%09d", timestamp, randomNum.Int64())
}

func GenerateOrderID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("ord_%d_%06d", timestamp, randomNum.Int64())
}

// Cents converts a display amount to integer cents. Amount comparison at
// payment-confirm time happens in cents, never on raw floats.
func Cents(amount float64) int64 {
	if amount < 0 {
		return -Cents(-amount)
	}
	return int64(amount*100 + 0.5)
}
