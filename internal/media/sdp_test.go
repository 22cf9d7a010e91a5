package media

import (
	"strings"
	"testing"
)

const sampleOfferSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 0.0.0.0\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 102 121\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:102 H264/90000\r\n" +
	"a=fmtp:102 packetization-mode=1\r\n" +
	"a=rtpmap:121 rtx/90000\r\n" +
	"a=fmtp:121 apt=102\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=3;useinbandfec=1\r\n"

func TestMungeOfferInsertsRTXTime(t *testing.T) {
	out, err := MungeOffer(sampleOfferSDP)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "rtx-time=125") {
		t.Fatalf("expected rtx-time=125 in munged SDP, got:\n%s", out)
	}
}

func TestMungeOfferInsertsH264Invariants(t *testing.T) {
	out, err := MungeOffer(sampleOfferSDP)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"profile-level-id=42e01f", "level-asymmetry-allowed=1", "sps-pps-idr-in-keyframe=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in munged SDP, got:\n%s", want, out)
		}
	}
}

func TestMungeOfferRewritesExistingProfileLevelID(t *testing.T) {
	sdpWithStaleProfile := strings.Replace(sampleOfferSDP,
		"a=fmtp:102 packetization-mode=1\r\n",
		"a=fmtp:102 packetization-mode=1;profile-level-id=4d001f\r\n", 1)

	out, err := MungeOffer(sdpWithStaleProfile)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "4d001f") {
		t.Fatalf("expected stale profile-level-id to be rewritten, got:\n%s", out)
	}
	if !strings.Contains(out, "profile-level-id=42e01f") {
		t.Fatalf("expected rewritten profile-level-id=42e01f, got:\n%s", out)
	}
}

func TestMungeOfferInsertsOpusPtimeUnder10ms(t *testing.T) {
	out, err := MungeOffer(sampleOfferSDP)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "a=ptime:10") {
		t.Fatalf("expected a=ptime:10 for opus minptime=3, got:\n%s", out)
	}
}

func TestMungeOfferSkipsOpusPtimeWhenFrameSizeNotUnder10ms(t *testing.T) {
	sdpWith20msOpus := strings.Replace(sampleOfferSDP,
		"a=fmtp:111 minptime=3;useinbandfec=1\r\n",
		"a=fmtp:111 minptime=20;useinbandfec=1\r\n", 1)

	out, err := MungeOffer(sdpWith20msOpus)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "a=ptime:10") {
		t.Fatalf("did not expect a=ptime:10 when minptime=20, got:\n%s", out)
	}
}

func TestParseFmtpRoundTrip(t *testing.T) {
	pt, params := parseFmtp("102 packetization-mode=1;level-asymmetry-allowed=1")
	if pt != "102" {
		t.Fatalf("expected pt=102, got %s", pt)
	}
	if got := formatFmtp(pt, params); got != "102 packetization-mode=1;level-asymmetry-allowed=1" {
		t.Fatalf("round trip mismatch: %s", got)
	}
}
