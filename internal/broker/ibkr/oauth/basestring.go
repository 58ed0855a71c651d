package oauth

import (
	"net/url"
	"sort"
	"strings"
)

// OAuth parameter names fixed by the broker's OAuth 1.0a contract.
const (
	ParamConsumerKey     = "oauth_consumer_key"
	ParamNonce           = "oauth_nonce"
	ParamSignature       = "oauth_signature"
	ParamSignatureMethod = "oauth_signature_method"
	ParamTimestamp       = "oauth_timestamp"
	ParamToken           = "oauth_token"
	ParamDHChallenge     = "diffie_hellman_challenge"

	SignatureMethodRSA  = "RSA-SHA256"
	SignatureMethodHMAC = "HMAC-SHA256"
)

// PercentEncode encodes s per RFC 3986: everything outside ALPHA / DIGIT / "-" / "." / "_" / "~"
// becomes %XX with uppercase hex.
func PercentEncode(s string) string {
	// QueryEscape already leaves exactly the unreserved set alone; it only differs in
	// writing a space as "+", and a literal "+" has been escaped to %2B by then.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// NormalizeURL returns the base string URI of rawURL (scheme and host lowercased,
// default port dropped, query and fragment removed) together with its query parameters.
func NormalizeURL(rawURL string) (string, url.Values, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", nil, &url.Error{Op: "parse", URL: rawURL, Err: errNotAbsolute}
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path, u.Query(), nil
}

// NormalizeParams encodes every key and value, sorts by encoded key then encoded value,
// and joins the pairs with "&".
func NormalizeParams(params url.Values) string {
	pairs := make([][2]string, 0, len(params))
	for k, vs := range params {
		ek := PercentEncode(k)
		for _, v := range vs {
			pairs = append(pairs, [2]string{ek, PercentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}

// BaseString builds the OAuth 1.0a signature base string
// prepend + METHOD & enc(baseURL) & enc(normalized params).
// Query parameters embedded in rawURL are merged into params.
func BaseString(prepend, method, rawURL string, params url.Values) (string, error) {
	baseURL, query, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	all := make(url.Values, len(params)+len(query))
	for k, vs := range query {
		all[k] = append(all[k], vs...)
	}
	for k, vs := range params {
		all[k] = append(all[k], vs...)
	}

	return prepend + strings.ToUpper(method) + "&" + PercentEncode(baseURL) + "&" + PercentEncode(NormalizeParams(all)), nil
}

// AuthorizationHeader renders the OAuth Authorization header value with the realm first and
// the remaining parameters sorted by name. Values must already be header-safe.
func AuthorizationHeader(realm string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`OAuth realm="`)
	b.WriteString(realm)
	b.WriteByte('"')
	for _, k := range keys {
		b.WriteString(", ")
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(params[k])
		b.WriteByte('"')
	}
	return b.String()
}
