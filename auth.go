package tinysip

import (
	"strings"

	"github.com/google/uuid"
)

// Credentials are the digest fields pulled out of an Authorization header.
// They are parsed and logged; responses are not validated yet.
type Credentials struct {
	Username string
	Realm    string
	Nonce    string
	Response string
}

// GenerateNonce returns a fresh opaque nonce for a digest challenge.
func GenerateNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ParseAuthorization extracts the quoted digest fields from an
// Authorization header line. Missing fields stay empty.
func ParseAuthorization(header string) Credentials {
	return Credentials{
		Username: quotedField(header, "username"),
		Realm:    quotedField(header, "realm"),
		Nonce:    quotedField(header, "nonce"),
		Response: quotedField(header, "response"),
	}
}

func quotedField(s, name string) string {
	i := strings.Index(s, name+"=\"")
	if i < 0 {
		return ""
	}
	rest := s[i+len(name)+2:]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}
