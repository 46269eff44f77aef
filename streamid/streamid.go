// Package streamid parses the "#!::k=v,k=v" convention some SRT callers
// use inside the opaque stream-id extension (spec §6, §9 design notes).
// The core treats the stream-id as an opaque byte string; only a
// connection-acceptance callback that wants the convention should import
// this package.
package streamid

import "strings"

const magic = "#!::"

// Mode is the recognized value of the "m" key.
type Mode string

const (
	ModeRequest       Mode = "request"
	ModePublish       Mode = "publish"
	ModeBidirectional Mode = "bidirectional"
)

// Info is the parsed form of a "#!::k=v,k=v" stream id. Unrecognized keys
// are preserved in Extra so callers can still see them.
type Info struct {
	User     string // "u"
	Resource string // "r"
	Host     string // "h"
	Mode     Mode   // "m"
	Type     string // "t"
	Session  string // "s"
	Extra    map[string]string
	Raw      string
}

// Parse interprets s per the "#!::k=v,k=v" convention. If s does not start
// with the magic prefix, it is returned as an opaque Info with Raw set and
// all other fields empty — this is not an error, since the convention is
// optional.
func Parse(s string) Info {
	info := Info{Raw: s}
	if !strings.HasPrefix(s, magic) {
		return info
	}
	body := s[len(magic):]
	for _, pair := range strings.Split(body, ",") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		switch k {
		case "u":
			info.User = v
		case "r":
			info.Resource = v
		case "h":
			info.Host = v
		case "m":
			info.Mode = Mode(v)
		case "t":
			info.Type = v
		case "s":
			info.Session = v
		default:
			if info.Extra == nil {
				info.Extra = map[string]string{}
			}
			info.Extra[k] = v
		}
	}
	return info
}

// Format reassembles a canonical "#!::k=v,..." string from Info, omitting
// empty fields. Extra keys are appended in unspecified order.
func Format(info Info) string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("u", info.User)
	add("r", info.Resource)
	add("h", info.Host)
	add("m", string(info.Mode))
	add("t", info.Type)
	add("s", info.Session)
	for k, v := range info.Extra {
		parts = append(parts, k+"="+v)
	}
	if len(parts) == 0 {
		return ""
	}
	return magic + strings.Join(parts, ",")
}
