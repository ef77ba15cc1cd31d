package gateway

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// validOTP checks a TOTP code against secret. An empty secret disables the
// check.
func validOTP(secret, code string, now time.Time) bool {
	if secret == "" {
		return true
	}
	if code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
