package coap

import "strings"

// LinkFormatEntry is a single CoRE Link-Format (RFC 6690) entry of a
// registration or update payload body, e.g. `</3/0>;rt="oma.lwm2m"`.
type LinkFormatEntry struct {
	Path  string
	Attrs map[string]string
}

// ParseLinkFormat splits body into its comma-separated link entries
// (`</obj>[,</obj/inst>]*[;rt="..."][;ct=<n>]`).
// Malformed entries are skipped rather than failing the whole parse, since
// the registration body is otherwise well-formed link-format text the
// engine only needs the path segment out of.
func ParseLinkFormat(body string) []LinkFormatEntry {
	var out []LinkFormatEntry
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segs := strings.Split(part, ";")
		link := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(link, "<") || !strings.HasSuffix(link, ">") {
			continue
		}
		entry := LinkFormatEntry{
			Path:  strings.Trim(link, "<>"),
			Attrs: make(map[string]string, len(segs)-1),
		}
		for _, attr := range segs[1:] {
			kv := strings.SplitN(attr, "=", 2)
			if len(kv) == 2 {
				entry.Attrs[kv[0]] = strings.Trim(kv[1], `"`)
			} else if kv[0] != "" {
				entry.Attrs[kv[0]] = ""
			}
		}
		out = append(out, entry)
	}
	return out
}
