package store

import (
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// timestamp scans time columns from drivers that hand back either
// time.Time or the textual form SQLite stores.
type timestamp time.Time

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = timestamp(v)
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *timestamp) parse(s string) error {
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = timestamp(parsed.UTC())
		return nil
	}
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = timestamp(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// nullTimestamp is the NULL-able variant of timestamp.
type nullTimestamp struct {
	Time  time.Time
	Valid bool
}

func (n *nullTimestamp) Scan(src any) error {
	if src == nil {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	if err := (*timestamp)(&n.Time).Scan(src); err != nil {
		return err
	}
	n.Valid = true
	return nil
}
