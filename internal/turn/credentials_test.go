package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

// Scenario 1 from spec §8: literal HMAC credential fixture.
func TestGenerateCredentialLiteralScenario(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	username, credential, exp := GenerateCredential("s3cret", "alice:admin", now)

	if username != "1700086400:alice-admin" {
		t.Fatalf("username = %q, want 1700086400:alice-admin", username)
	}
	if exp != 1700086400 {
		t.Fatalf("exp = %d, want 1700086400", exp)
	}

	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write([]byte("1700086400:alice-admin"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if credential != want {
		t.Fatalf("credential = %q, want %q", credential, want)
	}
}

func TestMakeRtcConfigTurnURI(t *testing.T) {
	cfg := MakeRtcConfig("turn.example", 3478, "s3cret", "alice:admin", ProtocolUDP, false)

	if len(cfg.IceServers) != 2 {
		t.Fatalf("expected 2 ice servers, got %d", len(cfg.IceServers))
	}
	turnEntry := cfg.IceServers[1]
	if len(turnEntry.URLs) != 1 || turnEntry.URLs[0] != "turn:turn.example:3478?transport=udp" {
		t.Fatalf("unexpected turn urls: %v", turnEntry.URLs)
	}
}

func TestParseRtcConfigRoundTrip(t *testing.T) {
	cfg := MakeRtcConfig("turn.example", 3478, "s3cret", "bob", ProtocolTCP, true)
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}

	stunURIs, turnURIs, _, err := ParseRtcConfig(raw)
	if err != nil {
		t.Fatalf("ParseRtcConfig: %v", err)
	}
	if len(turnURIs) != 1 {
		t.Fatalf("expected exactly one turn URI, got %v", turnURIs)
	}

	// Re-parse of the re-marshaled document should be stable (idempotence
	// property from spec §8).
	raw2, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	stunURIs2, turnURIs2, _, err := ParseRtcConfig(raw2)
	if err != nil {
		t.Fatal(err)
	}
	if len(stunURIs) != len(stunURIs2) || len(turnURIs) != len(turnURIs2) {
		t.Fatalf("round-trip parse mismatch")
	}
}

func TestParseRtcConfigEmpty(t *testing.T) {
	if _, _, _, err := ParseRtcConfig(nil); err != ErrEmptyConfig {
		t.Fatalf("expected ErrEmptyConfig, got %v", err)
	}
}

func TestParseRtcConfigMalformed(t *testing.T) {
	if _, _, _, err := ParseRtcConfig([]byte(`{"foo":"bar"}`)); err == nil {
		t.Fatal("expected malformed error")
	}
}

func TestValidCredentialWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	username, _, _ := GenerateCredential("s3cret", "alice", now)
	if !ValidCredentialWindow(username, now) {
		t.Fatal("expected credential window to be valid at generation time")
	}
}
