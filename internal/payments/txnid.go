package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IDGenerator mints transaction ids that cannot be guessed from earlier ones.
type IDGenerator struct {
	secret string
}

func NewIDGenerator(secret string) *IDGenerator {
	return &IDGenerator{secret: secret}
}

// Generate returns PAY-<8 char tag>-<32 hex chars>, 45 characters in total.
func (g *IDGenerator) Generate() string {
	nonce := uuid.New()

	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write([]byte(fmt.Sprintf("txn|nonce:%s", nonce.String())))

	sum := mac.Sum(nil)
	tag := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum)

	return fmt.Sprintf(
		"PAY-%s-%s",
		strings.ToUpper(tag[:8]),
		strings.ReplaceAll(nonce.String(), "-", ""),
	)
}
