/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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
	"crypto/x509"
	"io"

	tlsaut "github.com/nabbar/zproxy/certificates/auth"
	tlscas "github.com/nabbar/zproxy/certificates/ca"
	tlscrt "github.com/nabbar/zproxy/certificates/certs"
	tlscpr "github.com/nabbar/zproxy/certificates/cipher"
	tlscrv "github.com/nabbar/zproxy/certificates/curves"
	tlsvrs "github.com/nabbar/zproxy/certificates/tlsversion"
)

// config is the concrete TLSConfig. Its certificate, root CA, client CA and
// cipher fields hold the parsed subpackage types rather than raw crypto/tls
// values, so a config can be serialized (Config) and rebuilt (NewFrom)
// without losing its original PEM material.
type config struct {
	rand                  io.Reader
	cert                  []tlscrt.Cert
	cipherList            []tlscpr.Cipher
	curveList             []tlscrv.Curves
	caRoot                []tlscas.Cert
	clientAuth            tlsaut.ClientAuth
	clientCA              []tlscas.Cert
	tlsMinVersion         tlsvrs.Version
	tlsMaxVersion         tlsvrs.Version
	dynSizingDisabled     bool
	ticketSessionDisabled bool
}

func (o *config) RegisterRand(rand io.Reader) {
	o.rand = rand
}

func (o *config) AddClientCAString(ca string) bool {
	if ca == "" {
		return false
	}
	if c, e := tlscas.Parse(ca); e == nil {
		o.clientCA = append(o.clientCA, c)
		return true
	}
	return false
}

func (o *config) AddClientCAFile(pemFile string) error {
	var fct = func(p []byte) error {
		if c, e := tlscas.ParseByte(p); e != nil {
			return e
		} else {
			o.clientCA = append(o.clientCA, c)
			return nil
		}
	}

	return checkFile(fct, pemFile)
}

func (o *config) GetClientCA() []tlscas.Cert {
	return append(make([]tlscas.Cert, 0), o.clientCA...)
}

func (o *config) GetClientCAPool() *x509.CertPool {
	var res = x509.NewCertPool()
	for _, ca := range o.clientCA {
		ca.AppendPool(res)
	}
	return res
}

func (o *config) SetClientAuth(a tlsaut.ClientAuth) {
	o.clientAuth = a
}

func (o *config) SetVersionMin(v tlsvrs.Version) {
	o.tlsMinVersion = v
}

func (o *config) GetVersionMin() tlsvrs.Version {
	return o.tlsMinVersion
}

func (o *config) SetVersionMax(v tlsvrs.Version) {
	o.tlsMaxVersion = v
}

func (o *config) GetVersionMax() tlsvrs.Version {
	return o.tlsMaxVersion
}

func (o *config) SetCipherList(c []tlscpr.Cipher) {
	o.cipherList = append(make([]tlscpr.Cipher, 0), c...)
}

func (o *config) AddCiphers(c ...tlscpr.Cipher) {
	o.cipherList = append(o.cipherList, c...)
}

func (o *config) GetCiphers() []tlscpr.Cipher {
	var res = make([]tlscpr.Cipher, 0)
	for _, c := range o.cipherList {
		if c.Check() {
			res = append(res, c)
		}
	}
	return res
}

func (o *config) SetDynamicSizingDisabled(flag bool) {
	o.dynSizingDisabled = flag
}

func (o *config) SetSessionTicketDisabled(flag bool) {
	o.ticketSessionDisabled = flag
}

func (o *config) Clone() TLSConfig {
	return &config{
		rand:                  o.rand,
		cert:                  append(make([]tlscrt.Cert, 0), o.cert...),
		cipherList:            append(make([]tlscpr.Cipher, 0), o.cipherList...),
		curveList:             append(make([]tlscrv.Curves, 0), o.curveList...),
		caRoot:                append(make([]tlscas.Cert, 0), o.caRoot...),
		clientAuth:            o.clientAuth,
		clientCA:              append(make([]tlscas.Cert, 0), o.clientCA...),
		tlsMinVersion:         o.tlsMinVersion,
		tlsMaxVersion:         o.tlsMaxVersion,
		dynSizingDisabled:     o.dynSizingDisabled,
		ticketSessionDisabled: o.ticketSessionDisabled,
	}
}

// TlsConfig builds the *tls.Config a listener or client dials with. It is
// the one place every parsed field (certs, CA pools, cipher/curve lists,
// version bounds) gets flattened into stdlib shape.
func (o *config) TlsConfig(serverName string) *tls.Config {
	/* #nosec */
	cnf := &tls.Config{
		InsecureSkipVerify: false,
		Rand:               o.rand,
	}

	if serverName != "" {
		cnf.ServerName = serverName
	}

	if o.ticketSessionDisabled {
		cnf.SessionTicketsDisabled = true
	}

	if o.dynSizingDisabled {
		cnf.DynamicRecordSizingDisabled = true
	}

	if o.tlsMinVersion != tlsvrs.VersionUnknown {
		cnf.MinVersion = o.tlsMinVersion.TLS()
	}

	if o.tlsMaxVersion != tlsvrs.VersionUnknown {
		cnf.MaxVersion = o.tlsMaxVersion.TLS()
	}

	if ciphers := o.GetCiphers(); len(ciphers) > 0 {
		cnf.PreferServerCipherSuites = true
		for _, c := range ciphers {
			cnf.CipherSuites = append(cnf.CipherSuites, c.Uint16())
		}
	}

	if curves := o.GetCurves(); len(curves) > 0 {
		for _, c := range curves {
			cnf.CurvePreferences = append(cnf.CurvePreferences, tls.CurveID(c.Uint16()))
		}
	}

	if len(o.caRoot) > 0 {
		cnf.RootCAs = o.GetRootCAPool()
	}

	if len(o.cert) > 0 {
		cnf.Certificates = o.GetCertificatePair()
	}

	if o.clientAuth != tlsaut.NoClientCert {
		cnf.ClientAuth = tls.ClientAuthType(o.clientAuth)
		if len(o.clientCA) > 0 {
			cnf.ClientCAs = o.GetClientCAPool()
		}
	}

	return cnf
}

func (o *config) TLS(serverName string) *tls.Config {
	return o.TlsConfig(serverName)
}

// Config flattens this TLSConfig into the serializable Config struct used by
// mapstructure-driven configuration loading and by NewFrom for layering one
// configuration on top of another.
func (o *config) Config() *Config {
	c := &Config{
		CurveList:            o.GetCurves(),
		CipherList:           o.GetCiphers(),
		RootCA:               o.GetRootCA(),
		ClientCA:             o.GetClientCA(),
		VersionMin:           o.tlsMinVersion,
		VersionMax:           o.tlsMaxVersion,
		AuthClient:           o.clientAuth,
		DynamicSizingDisable: o.dynSizingDisabled,
		SessionTicketDisable: o.ticketSessionDisabled,
	}

	for _, crt := range o.cert {
		c.Certs = append(c.Certs, crt.Model())
	}

	return c
}
