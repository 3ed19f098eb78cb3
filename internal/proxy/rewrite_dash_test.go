package proxy

import (
	"errors"
	"strings"
	"testing"
)

const sampleMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT30S">
  <Period>
    <AdaptationSet mimeType="video/mp4" segmentAlignment="true">
      <SegmentTemplate timescale="90000" initialization="https://cdn.example.com/vod/asset/video/init.mp4" media="https://cdn.example.com/vod/asset/video/seg-$Number$.mp4" startNumber="1"/>
      <Representation id="video-1" bandwidth="2000000" width="1280" height="720"/>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4">
      <SegmentTemplate timescale="48000" initialization="audio/init.mp4" media="audio/seg-$Number$.mp4" startNumber="1"/>
      <Representation id="audio-1" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>
`

func TestDASHRewrite(t *testing.T) {
	base := mustParseURL(t, "https://cdn.example.com/vod/asset/manifest.mpd")
	r := &dashRewriter{naming: NamingPath}

	res, err := r.Rewrite([]byte(sampleMPD), base)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	out := string(res.Manifest)

	if strings.Contains(out, "https://cdn.example.com") {
		t.Errorf("rewritten MPD still contains absolute origin URLs:\n%s", out)
	}
	if !strings.Contains(out, `initialization="video/init.mp4"`) {
		t.Errorf("same-host init URL should lose its host and base path:\n%s", out)
	}
	if !strings.Contains(out, `media="video/seg-$Number$.mp4"`) {
		t.Errorf("same-host media template should lose its host and base path:\n%s", out)
	}
	if !strings.Contains(out, `initialization="audio/init.mp4"`) {
		t.Errorf("relative references must stay untouched:\n%s", out)
	}
	if got := res.Refs["video/init.mp4"]; got != "https://cdn.example.com/vod/asset/video/init.mp4" {
		t.Errorf("init ref must round trip: %q", got)
	}
}

func TestDASHRewrite_preserves_other_attributes(t *testing.T) {
	base := mustParseURL(t, "https://cdn.example.com/vod/asset/manifest.mpd")
	r := &dashRewriter{naming: NamingPath}

	res, err := r.Rewrite([]byte(sampleMPD), base)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	out := string(res.Manifest)

	for _, want := range []string{
		`timescale="90000"`,
		`startNumber="1"`,
		`bandwidth="2000000"`,
		`mediaPresentationDuration="PT30S"`,
		`xmlns="urn:mpeg:dash:schema:mpd:2011"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("attribute %s must survive the rewrite:\n%s", want, out)
		}
	}
}

func TestDASHRewrite_malformed(t *testing.T) {
	base := mustParseURL(t, "https://cdn.example.com/vod/manifest.mpd")
	r := &dashRewriter{naming: NamingPath}

	_, err := r.Rewrite([]byte("<MPD><Period></MPD>"), base)
	if !errors.Is(err, ErrManifestParse) {
		t.Errorf("expected ErrManifestParse for broken XML, got %v", err)
	}
}

func TestDASHRewrite_wrong_root(t *testing.T) {
	base := mustParseURL(t, "https://cdn.example.com/vod/manifest.mpd")
	r := &dashRewriter{naming: NamingPath}

	_, err := r.Rewrite([]byte("<SmoothStreamingMedia></SmoothStreamingMedia>"), base)
	if !errors.Is(err, ErrManifestParse) {
		t.Errorf("expected ErrManifestParse for non-MPD root, got %v", err)
	}
}
