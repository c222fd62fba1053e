package stub

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lgulliver/ncchup/pkg/types"
)

// Range is one byte range the stub requests, relative to the payload base
type Range struct {
	Offset int64
	Len    int64
}

// Script is what the stub asks for: every range in order, then a terminal status
type Script struct {
	Requests []Range
	Final    types.Status
	NcchID   string
}

// ParseScript parses "off:len,off:len;Status[=ncch_id]". Numbers accept
// 0x prefixes. The range list may be empty, e.g. ";Busy".
func ParseScript(s string) (Script, error) {
	rangesPart, finalPart, found := strings.Cut(s, ";")
	if !found {
		return Script{}, fmt.Errorf("invalid script %q: missing ';' before final status", s)
	}

	var script Script
	for _, item := range strings.Split(rangesPart, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		offStr, lenStr, ok := strings.Cut(item, ":")
		if !ok {
			return Script{}, fmt.Errorf("invalid range %q: want offset:len", item)
		}
		offset, err := strconv.ParseInt(strings.TrimSpace(offStr), 0, 64)
		if err != nil || offset < 0 {
			return Script{}, fmt.Errorf("invalid range offset %q", offStr)
		}
		length, err := strconv.ParseInt(strings.TrimSpace(lenStr), 0, 64)
		if err != nil || length < 0 {
			return Script{}, fmt.Errorf("invalid range length %q", lenStr)
		}
		script.Requests = append(script.Requests, Range{Offset: offset, Len: length})
	}

	status, ncchID, _ := strings.Cut(strings.TrimSpace(finalPart), "=")
	if status == "" {
		return Script{}, fmt.Errorf("invalid script %q: empty final status", s)
	}
	if types.Status(status) == types.StatusAppendNeeded {
		return Script{}, fmt.Errorf("invalid script %q: final status cannot be %s", s, status)
	}
	script.Final = types.Status(status)
	script.NcchID = ncchID

	return script, nil
}
