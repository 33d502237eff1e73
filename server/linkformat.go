package server

import (
	"strconv"
	"strings"

	"github.com/go-lwm2m/lwm2m"
)

// ParseLinkFormat decodes a CoRE Link Format body (RFC 6690) of the shape
// the registration interface's register/update bodies carry: a comma-
// separated list of "<path>[;attr=...]" entries, each path of the form
// "/O/I" (the root link "</>" some clients still send ahead of the
// per-instance list is accepted and ignored). Grounded in the teacher's
// query-string splitting idiom in coap_http.go (SplitN on the delimiter).
// Any other entry that is not an /O/I path fails the whole body with
// lwm2m.KindBadRequest.
func ParseLinkFormat(body []byte) (map[uint16][]uint16, error) {
	objects := make(map[uint16][]uint16)
	s := strings.TrimSpace(string(body))
	if s == "" {
		return objects, nil
	}
	for _, entry := range strings.Split(s, ",") {
		link := strings.SplitN(entry, ";", 2)[0]
		link = strings.TrimSpace(link)
		path := strings.TrimSuffix(strings.TrimPrefix(link, "<"), ">")
		path = strings.Trim(path, "/")
		if path == "" {
			continue // the "</>" root link
		}
		parts := strings.Split(path, "/")
		if len(parts) != 2 {
			return nil, lwm2m.New(lwm2m.KindBadRequest, "link-format entry %q is not an /O/I path", entry)
		}
		objectID, err := parseUint16(parts[0])
		if err != nil {
			return nil, lwm2m.Wrap(lwm2m.KindBadRequest, err, "link-format entry %q", entry)
		}
		instanceID, err := parseUint16(parts[1])
		if err != nil {
			return nil, lwm2m.Wrap(lwm2m.KindBadRequest, err, "link-format entry %q", entry)
		}
		objects[objectID] = append(objects[objectID], instanceID)
	}
	return objects, nil
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
