package rpc

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// normalizeActivity builds the bridge payload and the reply payload for a
// SET_ACTIVITY request. activity is modified in place (timestamp repair).
func normalizeActivity(activity map[string]any, clientID string, now time.Time) (event, reply map[string]any) {
	metadata := map[string]any{}
	extra := map[string]any{}

	if buttons, ok := activity["buttons"].([]any); ok {
		urls := make([]any, 0, len(buttons))
		labels := make([]any, 0, len(buttons))
		for _, b := range buttons {
			button, _ := b.(map[string]any)
			urls = append(urls, button["url"])
			labels = append(labels, button["label"])
		}
		metadata["button_urls"] = urls
		extra["buttons"] = labels
	}

	if timestamps, ok := activity["timestamps"].(map[string]any); ok {
		repairTimestamps(timestamps, now)
	}

	flags := 0
	if truthy(activity["instance"]) {
		flags = 1
	}

	event = map[string]any{
		"type":     0,
		"metadata": metadata,
		"flags":    flags,
	}
	if clientID != "" {
		event["application_id"] = clientID
	}
	for k, v := range activity {
		event[k] = v
	}
	for k, v := range extra {
		event[k] = v
	}

	reply = make(map[string]any, len(activity)+4)
	for k, v := range activity {
		reply[k] = v
	}
	for k, v := range extra {
		reply[k] = v
	}
	reply["name"] = ""
	reply["type"] = 0
	reply["metadata"] = metadata
	if clientID != "" {
		reply["application_id"] = clientID
	} else {
		delete(reply, "application_id")
	}
	return event, reply
}

// repairTimestamps converts second-resolution timestamps to milliseconds.
// A value is treated as seconds when its decimal rendering is more than
// two digits shorter than the current epoch-millisecond count.
func repairTimestamps(timestamps map[string]any, now time.Time) {
	nowDigits := len(strconv.FormatInt(now.UnixMilli(), 10))
	for key, raw := range timestamps {
		v, ok := toFloat(raw)
		if !ok {
			continue
		}
		if nowDigits-len(strconv.FormatFloat(v, 'f', -1, 64)) > 2 {
			timestamps[key] = json.Number(strconv.FormatFloat(math.Floor(v*1000), 'f', -1, 64))
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0 && !math.IsNaN(f)
	case float64:
		return x != 0 && !math.IsNaN(x)
	}
	return true
}
