package streamid

import "testing"

func TestParseFullConvention(t *testing.T) {
	info := Parse("#!::u=alice,r=cam1,h=edge.example,m=publish,t=video,s=sess1,x=custom")
	if info.User != "alice" || info.Resource != "cam1" || info.Host != "edge.example" {
		t.Fatalf("unexpected parse: %+v", info)
	}
	if info.Mode != ModePublish {
		t.Fatalf("want publish mode, got %q", info.Mode)
	}
	if info.Extra["x"] != "custom" {
		t.Fatalf("expected unknown key preserved, got %+v", info.Extra)
	}
}

func TestParseOpaqueNonConvention(t *testing.T) {
	info := Parse("just-a-plain-id")
	if info.Raw != "just-a-plain-id" || info.User != "" || info.Mode != "" {
		t.Fatalf("expected opaque passthrough, got %+v", info)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	info := Info{User: "bob", Mode: ModeRequest}
	s := Format(info)
	reparsed := Parse(s)
	if reparsed.User != "bob" || reparsed.Mode != ModeRequest {
		t.Fatalf("round trip mismatch: %+v", reparsed)
	}
}
