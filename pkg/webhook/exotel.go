// Package webhook verifies the signatures on Exotel status callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// VerifyExotelSignature checks the X-Exotel-Signature header against
// an HMAC-SHA256 of the form body. An empty secret disables
// verification so local setups work without Exotel-side configuration.
func VerifyExotelSignature(secret string, formValues url.Values, signature string) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return fmt.Errorf("signature header missing")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureString(formValues)))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// signatureString joins the form's key=value pairs sorted by key, the
// canonical form Exotel signs.
func signatureString(formValues url.Values) string {
	keys := make([]string, 0, len(formValues))
	for k := range formValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, v := range formValues[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}
