package pagination

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=20" validate:"gte=1,lte=250"`
}

// Cursor is the keyset position of the last row of a page.
type Cursor struct {
	ID string `json:"id"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// Trim cuts a result fetched with limit+1 rows down to limit and reports the next page.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, PageInfo) {
	if limit <= 0 || len(rows) <= limit {
		return rows, PageInfo{}
	}
	rows = rows[:limit]
	return rows, PageInfo{
		HasMore:       true,
		NextPageToken: EncodeCursor(cursorOf(rows[len(rows)-1])),
	}
}
