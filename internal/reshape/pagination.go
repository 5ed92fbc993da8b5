package reshape

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// OffsetPage is the v1 pagination block.
type OffsetPage struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// CursorPage is the v2 pagination block. Cursor is nil on the first page.
type CursorPage struct {
	Cursor  *string `json:"cursor"`
	Limit   int     `json:"limit"`
	HasMore bool    `json:"hasMore"`
	Total   int     `json:"total"`
}

type cursorPayload struct {
	Offset int `json:"offset"`
}

// EncodeCursor returns the opaque cursor for an offset.
func EncodeCursor(offset int) string {
	raw, _ := json.Marshal(cursorPayload{Offset: offset})
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor returns the offset held by a cursor.
func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(cursor)
		if err != nil {
			return 0, fmt.Errorf("invalid cursor encoding: %w", err)
		}
	}

	var p cursorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, fmt.Errorf("invalid cursor payload: %w", err)
	}
	if p.Offset < 0 {
		return 0, errors.New("invalid cursor offset")
	}
	return p.Offset, nil
}

// OffsetToCursor converts v1 pagination to v2.
func OffsetToCursor(p OffsetPage) CursorPage {
	page := max(p.Page, 1)
	offset := (page - 1) * p.Limit

	c := CursorPage{
		Limit:   p.Limit,
		Total:   p.Total,
		HasMore: offset+p.Limit < p.Total,
	}
	if offset > 0 {
		cursor := EncodeCursor(offset)
		c.Cursor = &cursor
	}
	return c
}

// CursorToOffset converts v2 pagination to v1.
func CursorToOffset(c CursorPage) (OffsetPage, error) {
	p := OffsetPage{Page: 1, Limit: c.Limit, Total: c.Total}

	if c.Cursor != nil && *c.Cursor != "" && c.Limit > 0 {
		offset, err := DecodeCursor(*c.Cursor)
		if err != nil {
			return OffsetPage{}, err
		}
		p.Page = offset/c.Limit + 1
	}

	if c.Limit > 0 {
		p.Pages = (c.Total + c.Limit - 1) / c.Limit
	}
	return p, nil
}
