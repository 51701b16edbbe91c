package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/jobtrace/internal/tracestore"
)

// DecodeTraceCursor parses a base64 "unixnano|transaction_id" cursor. An empty string means the first page.
func DecodeTraceCursor(cursorStr string) (*tracestore.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var startedAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid startedAt in cursor: %w", err)
	}

	return &tracestore.Cursor{
		StartedAt:     time.Unix(0, startedAt).UTC(),
		TransactionID: decodedParts[1],
	}, nil
}

func EncodeTraceCursor(cursor *tracestore.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.StartedAt.UnixNano(), cursor.TransactionID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
