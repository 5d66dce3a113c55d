package requestor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer attaches a JB-Signature header to outbound webhook bodies, so a
// customer endpoint can verify a request actually originated from this
// feature server. A nil secret or empty body makes Sign a no-op.
type Signer struct {
	Secret string
}

// Sign computes the "t=<unix_ts>,v1=<hmac_sha256_hex>" header value for
// the given request body, or "" if signing is disabled.
func (s Signer) Sign(body []byte) string {
	if s.Secret == "" || len(body) == 0 {
		return ""
	}

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(s.Secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	sum := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("t=%d,v1=%s", ts, sum)
}
