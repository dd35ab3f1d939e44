/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package certificates

import (
	"crypto/tls"
	"strings"
	"sync"
)

// Identity is a named server-side TLS identity: a certificate-bearing TLSConfig
// keyed by the name clients present through SNI.
type Identity struct {
	Name string
	Cfg  TLSConfig
}

// IdentityCache is a process-wide, copy-on-read cache of named server identities,
// selected by SNI with a per-listener default fallback.
//
// It is read-mostly: Refresh swaps in a new immutable snapshot built from the
// given identities, and GetCertificate reads the current snapshot without
// blocking writers working on the next one.
type IdentityCache struct {
	mu       sync.RWMutex
	byName   map[string]TLSConfig
	fallback string
}

// NewIdentityCache returns an empty IdentityCache. Call Refresh to populate it.
func NewIdentityCache() *IdentityCache {
	return &IdentityCache{
		byName: make(map[string]TLSConfig),
	}
}

// Refresh atomically replaces the cache's identity set.
func (c *IdentityCache) Refresh(identities []Identity, defaultCertName string) {
	byName := make(map[string]TLSConfig, len(identities))
	for _, id := range identities {
		byName[strings.ToLower(id.Name)] = id.Cfg
	}

	c.mu.Lock()
	c.byName = byName
	c.fallback = strings.ToLower(defaultCertName)
	c.mu.Unlock()
}

// Lookup returns the TLSConfig registered for name, or the configured fallback
// identity if name is empty, unknown, or not present in the cache.
func (c *IdentityCache) Lookup(name string) (TLSConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cfg, ok := c.byName[strings.ToLower(name)]; ok {
		return cfg, true
	}
	if cfg, ok := c.byName[c.fallback]; ok {
		return cfg, true
	}
	return nil, false
}

// GetCertificate implements the tls.Config.GetCertificate callback shape: it
// resolves the identity for the incoming ClientHello's SNI name (falling back
// to the per-listener default) and returns its leaf certificate.
func (c *IdentityCache) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cfg, ok := c.Lookup(hello.ServerName)
	if !ok {
		return nil, ErrNoMatchingIdentity()
	}

	pairs := cfg.GetCertificatePair()
	if len(pairs) == 0 {
		return nil, ErrNoMatchingIdentity()
	}

	return &pairs[0], nil
}

// ServerTLSConfig builds a *tls.Config suitable for a listener, dispatching
// certificate selection to GetCertificate on every handshake instead of
// binding to one fixed certificate set.
func (c *IdentityCache) ServerTLSConfig(base TLSConfig) *tls.Config {
	cnf := base.TlsConfig("")
	cnf.GetCertificate = c.GetCertificate
	return cnf
}
