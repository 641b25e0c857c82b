package vdpu

import "testing"

func TestOpsForMode(t *testing.T) {
	ops := opsForMode(CodecModeVP8Dec)
	if ops == nil {
		t.Fatal("no ops for VP8 decode")
	}
	if ops.init == nil || ops.exit == nil || ops.prepareRun == nil ||
		ops.run == nil || ops.irq == nil || ops.done == nil || ops.reset == nil {
		t.Error("VP8 ops table has nil entries")
	}

	if opsForMode(CodecModeNone) != nil {
		t.Error("expected no ops for CodecModeNone")
	}
	if opsForMode(CodecMode(99)) != nil {
		t.Error("expected no ops for out-of-range mode")
	}
}

func TestCodecModeStrings(t *testing.T) {
	if CodecModeVP8Dec.String() != "vp8-dec" {
		t.Errorf("String() = %q", CodecModeVP8Dec.String())
	}
	if CodecModeVP8Dec.MimeType() != "video/VP8" {
		t.Errorf("MimeType() = %q", CodecModeVP8Dec.MimeType())
	}
	if CodecModeNone.MimeType() != "" {
		t.Error("CodecModeNone has a mime type")
	}
}
