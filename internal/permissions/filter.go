package permissions

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	maxTextLen   = 100
	maxPhraseLen = 30

	ruleSyntax = ",=()"
)

// identityWords are key words that mark per-call personal or incidental data.
var identityWords = map[string]bool{
	"id": true, "ids": true, "uid": true, "uuid": true, "guid": true,
	"email": true, "emails": true, "mail": true, "address": true, "addr": true,
	"recipient": true, "recipients": true, "to": true, "cc": true, "bcc": true, "from": true, "sender": true,
	"name": true, "username": true, "user": true, "login": true, "handle": true, "nickname": true,
	"token": true, "password": true, "passwd": true, "pwd": true, "secret": true,
	"credential": true, "credentials": true, "key": true, "auth": true, "authorization": true,
	"phone": true, "mobile": true, "tel": true,
	"body": true, "content": true, "message": true, "text": true, "subject": true,
	"description": true, "comment": true, "note": true, "notes": true, "title": true,
	"url": true, "uri": true, "link": true, "href": true, "path": true,
}

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	urlPattern   = regexp.MustCompile(`(?i)^([a-z][a-z0-9+.\-]*://|www\.)`)
)

// SemanticArgs keeps only the arguments that describe a durable decision
// (status, mode, role, flags) and drops identity-like or free-form data.
func SemanticArgs(args Args) Args {
	var kept Args
	for _, arg := range args {
		if isIdentityKey(arg.Key) || !isSemanticValue(arg.Value) {
			continue
		}
		kept = append(kept, arg)
	}
	return kept
}

func isIdentityKey(key string) bool {
	for _, w := range keyWords(key) {
		if identityWords[w] {
			return true
		}
	}
	return false
}

// keyWords splits snake, kebab and camel case keys into lowercase words.
func keyWords(key string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) ||
			(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))):
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func isSemanticValue(v Value) bool {
	switch v.Kind {
	case KindBool, KindNumber:
		return true
	case KindString:
		s := strings.TrimSpace(v.Str)
		switch {
		case s == "":
			return false
		case emailPattern.MatchString(s), urlPattern.MatchString(s):
			return false
		case len(s) > maxTextLen:
			return false
		case strings.ContainsFunc(s, unicode.IsSpace) && len(s) > maxPhraseLen:
			return false
		case strings.ContainsAny(s, ruleSyntax):
			// Would not survive a round trip through a rule pattern.
			return false
		}
		return true
	default:
		return false
	}
}
