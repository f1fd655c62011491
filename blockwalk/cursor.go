package blockwalk

import "fmt"

func cursorString(block int64, txid string) string {
	return fmt.Sprintf("%d:%s", block, txid)
}

func splitCursor(cursor string) (block int64, txid string) {
	if cursor == "" {
		return 0, ""
	}
	var b int64
	var t string
	if _, err := fmt.Sscanf(cursor, "%d:%s", &b, &t); err != nil {
		return 0, ""
	}
	return b, t
}
