package media

import "testing"

func TestKeyframeFrameDistanceInfinite(t *testing.T) {
	if got := KeyframeFrameDistance(30, -1.0); got != -1 {
		t.Fatalf("expected -1 for infinite GOP, got %d", got)
	}
}

func TestKeyframeFrameDistanceFloorsAt60(t *testing.T) {
	if got := KeyframeFrameDistance(10, 1.0); got != 60 {
		t.Fatalf("expected floor of 60, got %d", got)
	}
}

func TestKeyframeFrameDistanceScalesWithFramerate(t *testing.T) {
	if got := KeyframeFrameDistance(60, 2.0); got != 120 {
		t.Fatalf("expected 120, got %d", got)
	}
}

func TestFECVideoBitrateBacksOffForLoss(t *testing.T) {
	got := FECVideoBitrate(2_000_000, 10)
	want := 1_818_182
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestFECAudioBitrateGrowsForLoss(t *testing.T) {
	got := FECAudioBitrate(64_000, 5)
	want := 67_200
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestVBVBufferBitsSoftwareEncoder(t *testing.T) {
	got := VBVBufferBits(3_000_000, 30, FamilySoftware, false)
	want := 100_000 // ceil(3_000_000/30) * 1
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestVBVBufferBitsInfiniteGOPUsesLargestMultiplier(t *testing.T) {
	finite := VBVBufferBits(3_000_000, 30, FamilyNVENC, false)
	infinite := VBVBufferBits(3_000_000, 30, FamilyNVENC, true)
	if infinite <= finite {
		t.Fatalf("expected infinite-GOP buffer (%d) to exceed finite-GOP buffer (%d)", infinite, finite)
	}
}

func TestCongestionBandsFloorsAtMinimum(t *testing.T) {
	min, max := CongestionBands(500_000, 0)
	if min != 100_000 {
		t.Fatalf("expected floor of 100_000 when 10%% is smaller, got %d", min)
	}
	if max != 500_000 {
		t.Fatalf("expected max == videoBitrate + fecAudioBitrate, got %d", max)
	}
}

func TestCongestionBandsUsesTenPercentWhenLarger(t *testing.T) {
	min, max := CongestionBands(5_000_000, 10_000)
	wantMin := 510_000 // 0.1*5_000_000 + 10_000
	if min != wantMin {
		t.Fatalf("expected %d, got %d", wantMin, min)
	}
	if max != 5_010_000 {
		t.Fatalf("expected 5_010_000, got %d", max)
	}
}

func TestParseEncoder(t *testing.T) {
	cases := []struct {
		name       string
		wantCodec  VideoCodec
		wantFamily EncoderFamily
	}{
		{"x264enc", CodecH264, FamilyX264},
		{"X264", CodecH264, FamilyX264},
		{"nvh264enc", CodecH264, FamilyNVENC},
		{"nvenc", CodecH264, FamilyNVENC},
		{"vaapih264enc", CodecH264, FamilyVAAPI},
		{"vaapi", CodecH264, FamilyVAAPI},
		{"nvh265enc", CodecH265, FamilyNVENC},
		{"vaapih265enc", CodecH265, FamilyVAAPI},
		{"x265enc", CodecH265, FamilySoftware},
		{"vp8enc", CodecVP8, FamilySoftware},
		{"vp9enc", CodecVP9, FamilySoftware},
		{"av1enc", CodecAV1, FamilySoftware},
		{"something-else", CodecH264, FamilySoftware},
		{"", CodecH264, FamilySoftware},
	}
	for _, tc := range cases {
		gotCodec, gotFamily := ParseEncoder(tc.name)
		if gotCodec != tc.wantCodec || gotFamily != tc.wantFamily {
			t.Errorf("ParseEncoder(%q) = (%v, %v), want (%v, %v)", tc.name, gotCodec, gotFamily, tc.wantCodec, tc.wantFamily)
		}
	}
}
