package cloudclient

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// sign implements spec §4.7's request signing: HMAC-MD5 over the
// key=value representation of the request fields, keys sorted
// ascending, empty values dropped, joined by &, using the fixed
// client secret as the HMAC key. Grounded on the keyed-hash signing
// idiom in amenzhinsky-iothub's common.Credentials.SAS, adapted from
// SHA-256/base64 to the vendor's MD5/hex scheme.
func sign(fields map[string]string, clientSecret string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	canonical := strings.Join(parts, "&")

	mac := hmac.New(md5.New, []byte(clientSecret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
