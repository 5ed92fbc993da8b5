package reshape

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Date layouts per version. v1 dates are UTC without a zone marker.
const (
	V1DateLayout = "2006-01-02 15:04:05"
	V2DateLayout = time.RFC3339
)

// PaginationKey is the field holding the pagination block of list responses.
const PaginationKey = "pagination"

// AliasTable maps v1 field names to their v2 names.
type AliasTable map[string]string

func (a AliasTable) inverse() map[string]string {
	inv := make(map[string]string, len(a))
	for v1, v2 := range a {
		inv[v2] = v1
	}
	return inv
}

// Transformer rewrites decoded JSON payloads between API versions.
type Transformer struct {
	Aliases    AliasTable
	DateFields []string
}

// Transform converts payload from one version to another. Payloads are the
// generic form produced by encoding/json (maps, slices, float64). Error
// envelopes are converted between shapes; other payloads have fields
// renamed, dates reformatted and pagination converted. Any failure returns
// the payload untouched.
func (t *Transformer) Transform(payload any, from, to Version) (out any) {
	if from == to || payload == nil {
		return payload
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("from", from.String()).Str("to", to.String()).
				Msg("Response transform panicked, returning original payload")
			out = payload
		}
	}()

	result, err := t.transform(payload, from, to)
	if err != nil {
		log.Warn().Err(err).Str("from", from.String()).Str("to", to.String()).
			Msg("Response transform failed, returning original payload")
		return payload
	}
	return result
}

func (t *Transformer) transform(payload any, from, to Version) (any, error) {
	if obj, ok := payload.(map[string]any); ok {
		if converted, ok := convertErrorEnvelope(obj, to); ok {
			return converted, nil
		}
	}

	renames := map[string]string(t.Aliases)
	if to == V1 {
		renames = t.Aliases.inverse()
	}

	dates := make(map[string]bool, len(t.DateFields)*2)
	for _, f := range t.DateFields {
		dates[f] = true
		if alias, ok := t.Aliases[f]; ok {
			dates[alias] = true
		}
	}

	out := rewrite(payload, renames, dates, to)

	if obj, ok := out.(map[string]any); ok {
		if page, ok := obj[PaginationKey].(map[string]any); ok {
			converted, err := convertPagination(page, to)
			if err != nil {
				return nil, err
			}
			obj[PaginationKey] = converted
		}
	}
	return out, nil
}

// rewrite copies v renaming keys and reformatting date fields, recursively.
func rewrite(v any, renames map[string]string, dates map[string]bool, to Version) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			name := k
			if renamed, ok := renames[k]; ok {
				name = renamed
			}
			if s, ok := child.(string); ok && (dates[k] || dates[name]) {
				out[name] = formatDate(s, to)
				continue
			}
			out[name] = rewrite(child, renames, dates, to)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = rewrite(child, renames, dates, to)
		}
		return out
	default:
		return v
	}
}

// formatDate reformats s for the target version, leaving values it cannot
// parse as they are.
func formatDate(s string, to Version) string {
	switch to {
	case V1:
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return s
		}
		return ts.UTC().Format(V1DateLayout)
	case V2:
		ts, err := time.ParseInLocation(V1DateLayout, s, time.UTC)
		if err != nil {
			return s
		}
		return ts.Format(V2DateLayout)
	}
	return s
}

// convertErrorEnvelope recognises {error:true, message, code} (v1) and
// {success:false, error:{message, code, details}} (v2).
func convertErrorEnvelope(obj map[string]any, to Version) (map[string]any, bool) {
	if isV1Error(obj) {
		if to == V1 {
			return obj, true
		}
		inner := map[string]any{
			"message": obj["message"],
			"code":    obj["code"],
		}
		copyIfPresent(inner, obj, "messageAr", "details")
		return map[string]any{"success": false, "error": inner}, true
	}

	if inner, ok := v2Error(obj); ok {
		if to == V2 {
			return obj, true
		}
		out := map[string]any{
			"error":   true,
			"message": inner["message"],
			"code":    inner["code"],
		}
		copyIfPresent(out, inner, "messageAr", "details")
		return out, true
	}

	return nil, false
}

func isV1Error(obj map[string]any) bool {
	flag, ok := obj["error"].(bool)
	if !ok || !flag {
		return false
	}
	_, hasMessage := obj["message"].(string)
	return hasMessage
}

func v2Error(obj map[string]any) (map[string]any, bool) {
	success, ok := obj["success"].(bool)
	if !ok || success {
		return nil, false
	}
	inner, ok := obj["error"].(map[string]any)
	if !ok {
		return nil, false
	}
	_, hasMessage := inner["message"].(string)
	return inner, hasMessage
}

func copyIfPresent(dst, src map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = v
		}
	}
}

func convertPagination(page map[string]any, to Version) (map[string]any, error) {
	_, isV1 := page["page"]
	_, hasCursor := page["cursor"]
	_, hasMore := page["hasMore"]
	isV2 := hasCursor || hasMore

	switch {
	case to == V2 && isV1:
		p, err := decodeInto[OffsetPage](page)
		if err != nil {
			return nil, err
		}
		return encodeFrom(OffsetToCursor(p))
	case to == V1 && isV2:
		c, err := decodeInto[CursorPage](page)
		if err != nil {
			return nil, err
		}
		p, err := CursorToOffset(c)
		if err != nil {
			return nil, err
		}
		return encodeFrom(p)
	default:
		return page, nil
	}
}

func decodeInto[T any](m map[string]any) (T, error) {
	var out T
	for k, v := range m {
		if f, ok := v.(float64); ok && f != math.Trunc(f) {
			return out, fmt.Errorf("pagination field %s is not an integer", k)
		}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

func encodeFrom(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	err = json.Unmarshal(raw, &out)
	return out, err
}
