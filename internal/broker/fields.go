package broker

import (
	"os"
	"strconv"
	"strings"
)

// getString/getInt/getStringSlice/getStringMap pull a typed value out of a
// decoded request's field map, defaulting on any type mismatch or absence.
// Grounded on the teacher's getMetadataString
// (internal/agent/lifecycle/executor_docker.go), generalized past strings.
func getString(fields map[string]interface{}, key string) string {
	if fields == nil {
		return ""
	}
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func getInt(fields map[string]interface{}, key string, def int) int {
	if fields == nil {
		return def
	}
	switch v := fields[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func getStringSlice(fields map[string]interface{}, key string) []string {
	if fields == nil {
		return nil
	}
	raw, ok := fields[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getStringMap(fields map[string]interface{}, key string) map[string]string {
	if fields == nil {
		return nil
	}
	raw, ok := fields[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// readRSS returns pid's resident set size in bytes from /proc, or 0 when
// unavailable (non-Linux, or the process already exited). metrics reports
// best-effort memory; a missing sample is not an error.
func readRSS(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0
	}
	rssPages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return rssPages * int64(os.Getpagesize())
}
