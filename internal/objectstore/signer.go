package objectstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// signingKeyCache caches the derived SigV4 signing key per (yyyymmdd,
// region): the key only depends on the date and region/service scope, so
// recomputing the four chained HMACs on every request is wasted work.
// Entries are good until UTC midnight.
type signingKeyCache struct {
	date   string
	region string
	key    []byte
}

func (c *signingKeyCache) derive(secretKey, date, region string) []byte {
	if c.key != nil && c.date == date && c.region == region {
		return c.key
	}
	kDate := hmacSHA256([]byte("AWS4"+secretKey), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, "s3")
	kSigning := hmacSHA256(kService, "aws4_request")

	c.date = date
	c.region = region
	c.key = kSigning
	return kSigning
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// emptyPayloadHash is sha256("") precomputed, used for GET/LIST requests
// which always carry an empty body.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// signRequest computes the canonical request, string-to-sign, and
// Authorization header value for AWS Signature V4. method, uri, and
// query describe the request; headers must already include Host and
// x-amz-content-sha256; now is the signing timestamp.
func (c *Client) signRequest(method, uri string, query url.Values, headers map[string]string, payloadHash string, now time.Time) string {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")

	canonicalHeaders, signedHeaders := canonicalizeHeaders(headers)
	canonicalQuery := canonicalizeQuery(query)

	canonicalRequest := strings.Join([]string{
		method,
		uri,
		canonicalQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := fmt.Sprintf("%s/%s/s3/aws4_request", dateStamp, c.region)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	c.keyMu.Lock()
	signingKey := c.signingKey.derive(c.secretKey, dateStamp, c.region)
	c.keyMu.Unlock()

	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	return fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		c.accessKey, scope, signedHeaders, signature,
	)
}

// canonicalizeHeaders sorts headers by lower-cased name, trims whitespace
// from values, and returns both the "name:value\n"-joined canonical block
// and the semicolon-joined list of signed header names.
func canonicalizeHeaders(headers map[string]string) (canonical, signedNames string) {
	names := make([]string, 0, len(headers))
	lower := make(map[string]string, len(headers))
	for k := range headers {
		l := strings.ToLower(k)
		names = append(names, l)
		lower[l] = strings.TrimSpace(headers[k])
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(':')
		b.WriteString(lower[n])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

// canonicalizeQuery sorts query parameters and percent-encodes them per the
// SigV4 canonical querystring rules.
func canonicalizeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, sigV4Escape(k)+"="+sigV4Escape(v))
		}
	}
	return strings.Join(parts, "&")
}

// sigV4Escape percent-encodes s, writing a space as %20 rather than the
// "+" that url.QueryEscape produces.
func sigV4Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
