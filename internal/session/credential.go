package session

import "crypto/sha256"

// credentialSet remembers consumed credentials by digest so raw tokens are
// not retained after use.
type credentialSet map[[sha256.Size]byte]struct{}

// seen reports whether credential was already consumed.
func (c credentialSet) seen(credential string) bool {
	_, used := c[sha256.Sum256([]byte(credential))]
	return used
}

// consume marks credential used and reports whether it was fresh.
func (c credentialSet) consume(credential string) bool {
	if c.seen(credential) {
		return false
	}
	c[sha256.Sum256([]byte(credential))] = struct{}{}
	return true
}
