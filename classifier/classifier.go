// classifier/classifier.go
// Purpose: Derive a stable client identifier and client type from request
// metadata. The (id, type) pair selects which rate-limit rule set applies
// and keys all per-client counters.

package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// ClientType classifies the caller for rule selection.
type ClientType int

const (
	Anonymous ClientType = iota
	Authenticated
	MedicalReviewer
	Admin
	Bot
	APIKey
)

// String returns the string representation of ClientType.
func (t ClientType) String() string {
	switch t {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case MedicalReviewer:
		return "medical_reviewer"
	case Admin:
		return "admin"
	case Bot:
		return "bot"
	case APIKey:
		return "api_key"
	default:
		return "unknown"
	}
}

// ParseClientType maps a config string to a ClientType.
func ParseClientType(s string) (ClientType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anonymous":
		return Anonymous, true
	case "authenticated":
		return Authenticated, true
	case "medical_reviewer":
		return MedicalReviewer, true
	case "admin":
		return Admin, true
	case "bot":
		return Bot, true
	case "api_key":
		return APIKey, true
	default:
		return Anonymous, false
	}
}

// Session carries the authenticated-session fields the core needs.
type Session struct {
	UserID  string
	Role    string
	IsAdmin bool
}

// Request is the subset of request metadata the classifier inspects.
type Request struct {
	Method     string
	Path       string
	Header     http.Header
	RemoteAddr string
	Session    *Session
}

// Client is the classification result.
type Client struct {
	ID     string
	Type   ClientType
	UserID string
	IP     string
}

const reviewerRole = "medical_reviewer"

var botPattern = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|scanner`)

// ClientIP extracts the caller IP. Precedence: first X-Forwarded-For entry,
// then X-Real-IP, then the socket peer. The first XFF entry is trusted on
// purpose for proxy-fronted deployments; do not switch to the last entry.
func ClientIP(r Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}

// Classify derives the client identity. Precedence: session, bearer token,
// bot user agent, anonymous. Unparseable metadata degrades to the anonymous
// classification rather than failing.
func Classify(r Request) Client {
	ip := ClientIP(r)

	if s := r.Session; s != nil && s.UserID != "" {
		clientType := Authenticated
		if s.IsAdmin {
			clientType = Admin
		} else if strings.EqualFold(s.Role, reviewerRole) {
			clientType = MedicalReviewer
		}
		return Client{
			ID:     "user:" + s.UserID + ":" + ip,
			Type:   clientType,
			UserID: s.UserID,
			IP:     ip,
		}
	}

	// Bearer credential without a session: keyed by a hash so the raw token
	// never reaches logs or store keys.
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return Client{
			ID:   "api:" + shortHash(auth, 16) + ":" + ip,
			Type: APIKey,
			IP:   ip,
		}
	}

	// The hash distinguishes different bots sharing one IP.
	if ua := r.Header.Get("User-Agent"); ua != "" && botPattern.MatchString(ua) {
		return Client{
			ID:   "bot:" + shortHash(ua, 8) + ":" + ip,
			Type: Bot,
			IP:   ip,
		}
	}

	return Client{
		ID:   "anon:" + ip,
		Type: Anonymous,
		IP:   ip,
	}
}

func shortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}
