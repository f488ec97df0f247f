// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/nio_http_parser.c (method table) and
// NIOMan/Classes/proto/protopop3.c / protosmtp.c (command tables).
//

package protocol

// HTTPMethods is the closed set of 39 HTTP methods the original parser
// recognises on a request line, spanning the core IANA method registry
// plus the WebDAV and versioning extension verbs it also accepts.
var HTTPMethods = []string{
	"GET", "HEAD", "POST", "PUT", "DELETE", "CONNECT", "OPTIONS", "TRACE", "PATCH",
	"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
	"VERSION-CONTROL", "REPORT", "CHECKOUT", "CHECKIN", "UNCHECKOUT",
	"MKWORKSPACE", "UPDATE", "LABEL", "MERGE", "BASELINE-CONTROL", "MKACTIVITY",
	"ORDERPATCH", "ACL", "MKREDIRECTREF", "UPDATEREDIRECTREF", "SEARCH", "BIND",
	"REBIND", "UNBIND", "PURGE", "RFC-6337", "LINK", "UNLINK", "NOTIFY",
	"MSEARCH", "SUBSCRIBE", "UNSUBSCRIBE",
}

// POP3Commands is the closed set of 14 POP3 commands used to confirm the
// protocol on the first inbound line(s).
var POP3Commands = []string{
	"USER", "PASS", "APOP", "STLS", "AUTH", "QUIT", "STAT",
	"LIST", "RETR", "DELE", "NOOP", "RSET", "TOP", "UIDL",
}

// SMTPCommands is the closed set of 25 SMTP commands used to confirm the
// protocol on the first inbound line(s).
var SMTPCommands = []string{
	"HELO", "EHLO", "MAIL", "RCPT", "DATA", "RSET", "VRFY", "EXPN", "HELP",
	"NOOP", "QUIT", "STARTTLS", "AUTH", "BDAT", "SEND", "SOML", "SAML",
	"TURN", "ETRN", "ATRN", "BURL", "CHUNKING", "PIPELINING", "ONEX", "VERB",
}

func isOneOf(set []string, word string) bool {
	for _, s := range set {
		if s == word {
			return true
		}
	}
	return false
}

// IsHTTPMethod reports whether word is one of [HTTPMethods].
func IsHTTPMethod(word string) bool { return isOneOf(HTTPMethods, word) }

// IsPOP3Command reports whether word is one of [POP3Commands].
func IsPOP3Command(word string) bool { return isOneOf(POP3Commands, word) }

// IsSMTPCommand reports whether word is one of [SMTPCommands].
func IsSMTPCommand(word string) bool { return isOneOf(SMTPCommands, word) }
