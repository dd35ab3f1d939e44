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

package server

import (
	"github.com/nabbar/zproxy/certificates"
	"github.com/nabbar/zproxy/config"
)

// buildIdentityCache loads every configured identity's certificate pair and
// registers it under its name, so GetCertificate can dispatch on a
// handshake's SNI name without reloading anything from disk.
func buildIdentityCache(identities []config.IdentityConfig, defaultCertName string) (*certificates.IdentityCache, error) {
	cache := certificates.NewIdentityCache()

	list := make([]certificates.Identity, 0, len(identities))
	for _, id := range identities {
		tc := certificates.New()
		if err := tc.AddCertificatePairFile(id.KeyFile, id.CertFile); err != nil {
			return nil, err
		}
		list = append(list, certificates.Identity{Name: id.Name, Cfg: tc})
	}

	cache.Refresh(list, defaultCertName)
	return cache, nil
}
