// Package turn builds and parses short-lived TURN/STUN credentials and the
// RTC configuration JSON document served to browser clients.
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/breeze-rmm/selkies-agent/internal/logging"
)

var log = logging.L("turn")

// credentialLifetime is the validity window for generated HMAC credentials.
const credentialLifetime = 24 * time.Hour

// ICEServer mirrors the iceServers[] entry shape in the RTC config schema.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// RtcConfig is the JSON document produced by make_rtc_config and served at
// /turn, and consumed by MediaPipelineController.
type RtcConfig struct {
	LifetimeDuration   string      `json:"lifetimeDuration"`
	IceTransportPolicy string      `json:"iceTransportPolicy"`
	BlockStatus        string      `json:"blockStatus"`
	IceServers         []ICEServer `json:"iceServers"`
}

// Protocol selects the TURN relay transport.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
)

// sanitizeUser replaces ':' with '-' so the user portion never collides with
// the "exp:user" HMAC username separator.
func sanitizeUser(user string) string {
	return strings.ReplaceAll(user, ":", "-")
}

// GenerateCredential builds the time-limited username/credential pair.
// now is injected for testability; callers pass time.Now().
func GenerateCredential(secret, user string, now time.Time) (username, credential string, exp int64) {
	exp = now.Add(credentialLifetime).Unix()
	username = fmt.Sprintf("%d:%s", exp, sanitizeUser(user))

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, credential, exp
}

// MakeRtcConfig builds the full RTC configuration document described in
// spec §4.1, given a host/port/secret/user/protocol/tls selection.
func MakeRtcConfig(host string, port int, secret, user string, protocol Protocol, tls bool) RtcConfig {
	username, credential, _ := GenerateCredential(secret, user, time.Now())

	scheme := "turn"
	if tls {
		scheme = "turns"
	}

	stunURLs := []string{
		fmt.Sprintf("stun:%s:%d", host, port),
		"stun:stun.l.google.com:19302",
	}
	turnURL := fmt.Sprintf("%s:%s:%d?transport=%s", scheme, host, port, protocol)

	return RtcConfig{
		LifetimeDuration:   "86400s",
		IceTransportPolicy: "all",
		BlockStatus:        "NOT_BLOCKED",
		IceServers: []ICEServer{
			{URLs: stunURLs},
			{URLs: []string{turnURL}, Username: username, Credential: credential},
		},
	}
}

// ErrEmptyConfig and ErrMalformedConfig are the two failure modes of
// ParseRtcConfig named in spec §4.1.
var (
	ErrEmptyConfig     = errors.New("empty")
	ErrMalformedConfig = errors.New("malformed")
)

// ParseRtcConfig walks an RTC config JSON document and extracts STUN and TURN
// URIs, re-encoding TURN user/credential as userinfo in the returned URI.
func ParseRtcConfig(data []byte) (stunURIs, turnURIs []string, raw RtcConfig, err error) {
	if len(data) == 0 {
		return nil, nil, RtcConfig{}, ErrEmptyConfig
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, RtcConfig{}, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	if raw.IceServers == nil {
		return nil, nil, RtcConfig{}, ErrMalformedConfig
	}

	for _, server := range raw.IceServers {
		for _, u := range server.URLs {
			switch {
			case strings.HasPrefix(u, "stun:"):
				host, port := splitHostPortNoQuery(strings.TrimPrefix(u, "stun:"))
				stunURIs = append(stunURIs, fmt.Sprintf("stun:%s:%s", host, port))
			case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
				scheme := "turn"
				rest := strings.TrimPrefix(u, "turn:")
				if strings.HasPrefix(u, "turns:") {
					scheme = "turns"
					rest = strings.TrimPrefix(u, "turns:")
				}
				host, port := splitHostPortNoQuery(rest)
				if server.Username == "" || server.Credential == "" {
					return nil, nil, RtcConfig{}, ErrMalformedConfig
				}
				turnURIs = append(turnURIs, fmt.Sprintf("%s://%s:%s@%s:%s",
					scheme,
					url.QueryEscape(server.Username),
					url.QueryEscape(server.Credential),
					host, port))
			}
		}
	}

	return stunURIs, turnURIs, raw, nil
}

func splitHostPortNoQuery(hostPort string) (host, port string) {
	if idx := strings.IndexByte(hostPort, '?'); idx >= 0 {
		hostPort = hostPort[:idx]
	}
	host, port, ok := strings.Cut(hostPort, ":")
	if !ok {
		return hostPort, ""
	}
	return host, port
}

// ValidCredentialWindow checks the testable property in spec §8: exp parses
// as an integer and falls within [now, now+86400+epsilon].
func ValidCredentialWindow(username string, now time.Time) bool {
	parts := strings.SplitN(username, ":", 2)
	if len(parts) != 2 {
		return false
	}
	exp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return false
	}
	const epsilon = 5 * time.Second
	nowUnix := now.Unix()
	return nowUnix <= exp && exp <= nowUnix+86400+int64(epsilon.Seconds())
}
