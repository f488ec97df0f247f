// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/filter/filteropts.c (per-rule connection
// option keys).
//

package filter

import "gopkg.in/yaml.v3"

// ConnOptions is a per-rule override bundle for the connection options a
// rule's brace form may set (spec's "Connection option keys" table).
// Zero values mean "inherit the global setting"; there is no separate
// has-been-set bit because every field here is either a non-empty string,
// a non-zero integer, or an explicit tri-state pointer.
type ConnOptions struct {
	CACert       string `yaml:"CACert,omitempty"`
	CAKey        string `yaml:"CAKey,omitempty"`
	ClientCert   string `yaml:"ClientCert,omitempty"`
	ClientKey    string `yaml:"ClientKey,omitempty"`
	CAChain      string `yaml:"CAChain,omitempty"`
	LeafCRLURL   string `yaml:"LeafCRLURL,omitempty"`

	DHGroupParams string `yaml:"DHGroupParams,omitempty"`
	ECDHCurve     string `yaml:"ECDHCurve,omitempty"`
	Ciphers       string `yaml:"Ciphers,omitempty"`
	CipherSuites  string `yaml:"CipherSuites,omitempty"`

	ForceSSLProto   string `yaml:"ForceSSLProto,omitempty"`
	DisableSSLProto string `yaml:"DisableSSLProto,omitempty"`
	EnableSSLProto  string `yaml:"EnableSSLProto,omitempty"`
	MinSSLProto     string `yaml:"MinSSLProto,omitempty"`
	MaxSSLProto     string `yaml:"MaxSSLProto,omitempty"`
	ValidateProto   *bool  `yaml:"ValidateProto,omitempty"`

	MaxHTTPHeaderSize int `yaml:"MaxHTTPHeaderSize,omitempty"`

	VerifyPeer               *bool `yaml:"VerifyPeer,omitempty"`
	AllowWrongHost           *bool `yaml:"AllowWrongHost,omitempty"`
	RemoveHTTPAcceptEncoding *bool `yaml:"RemoveHTTPAcceptEncoding,omitempty"`
	RemoveHTTPReferer        *bool `yaml:"RemoveHTTPReferer,omitempty"`
	DenyOCSP                 *bool `yaml:"DenyOCSP,omitempty"`
	Passthrough              *bool `yaml:"Passthrough,omitempty"`
	SSLCompression           *bool `yaml:"SSLCompression,omitempty"`
	ReconnectSSL             *bool `yaml:"ReconnectSSL,omitempty"`
}

// ParseConnOptions decodes the YAML flow-mapping brace form of a rule's
// option override bundle, e.g. `{ CACert: "ca.pem", VerifyPeer: true }`.
//
// [ParseRules] extracts the brace-delimited substring from a rule line
// verbatim and passes it here; it must already be valid YAML flow-mapping
// syntax using the option key names of [ConnOptions] as map keys.
func ParseConnOptions(braceForm string) (*ConnOptions, error) {
	var opts ConnOptions
	if err := yaml.Unmarshal([]byte(braceForm), &opts); err != nil {
		return nil, err
	}
	return &opts, nil
}
