package model

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var errBadTimestamp = errors.New("invalid timestamp")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// 纯数字的年份或紧凑日期优先按日期解析，其余数字串视为毫秒时间戳
var compactDateLayouts = []string{
	"2006",
	"20060102",
}

// ParseTimestamp 接受 RFC3339 / 日期字符串 / 毫秒时间戳（数字或数字字符串）
func ParseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, errBadTimestamp
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			for _, layout := range compactDateLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), nil
				}
			}
			return time.UnixMilli(ms).UTC(), nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, errBadTimestamp
	case json.Number:
		if ms, err := val.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, errBadTimestamp
		}
		return fromMillisFloat(f)
	case float64:
		return fromMillisFloat(val)
	case int64:
		return time.UnixMilli(val).UTC(), nil
	case int:
		return time.UnixMilli(int64(val)).UTC(), nil
	}
	return time.Time{}, errBadTimestamp
}

func fromMillisFloat(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, errBadTimestamp
	}
	return time.UnixMilli(int64(f)).UTC(), nil
}
