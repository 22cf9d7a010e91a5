package clipboard

import "testing"

func TestPolicyDirections(t *testing.T) {
	if !PolicyOut.outbound() || PolicyOut.inbound() {
		t.Fatal("PolicyOut should be outbound-only")
	}
	if !PolicyIn.inbound() || PolicyIn.outbound() {
		t.Fatal("PolicyIn should be inbound-only")
	}
	if !PolicyBoth.outbound() || !PolicyBoth.inbound() {
		t.Fatal("PolicyBoth should enable both directions")
	}
}

func TestHandleInboundRejectsWhenPolicyDisallows(t *testing.T) {
	b := New(PolicyOut, nil, nil)
	if err := b.HandleInbound("aGVsbG8="); err != nil {
		t.Fatalf("expected no-op (nil error) when inbound disabled, got %v", err)
	}
}

func TestHandleInboundRejectsMalformedBase64(t *testing.T) {
	b := New(PolicyIn, nil, []string{"cat"})
	if err := b.HandleInbound("not-valid-base64!!"); err == nil {
		t.Fatal("expected error decoding malformed base64")
	}
}
